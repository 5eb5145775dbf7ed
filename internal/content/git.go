package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const blobFileName = "content.bin"

// GitStore keeps one bare-bones git repository per document under
// baseDir, with each version landing as a commit on main. URLs carry
// the commit hash, so any stored version stays addressable after later
// writes.
type GitStore struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitStore(baseDir string) *GitStore {
	return &GitStore{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *GitStore) Put(ctx context.Context, data []byte, documentID string, version int) (PutResult, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(documentID)
	if err != nil {
		return PutResult{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return PutResult{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), blobFileName), data, 0o644); err != nil {
		return PutResult{}, fmt.Errorf("write version blob: %w", err)
	}
	if _, err := worktree.Add(blobFileName); err != nil {
		return PutResult{}, fmt.Errorf("git add version blob: %w", err)
	}
	hash, err := worktree.Commit(fmt.Sprintf("version %d", version), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "redline",
			Email: "content@redline.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("commit version blob: %w", err)
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return PutResult{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return PutResult{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}
	return newPutResult(fmt.Sprintf("git://%s/%s", documentID, hash.String()), data), nil
}

func (s *GitStore) Get(ctx context.Context, url string) ([]byte, error) {
	scheme, rest, err := splitURL(url)
	if err != nil {
		return nil, err
	}
	if scheme != "git" {
		return nil, fmt.Errorf("content url %q does not belong to the git backend", url)
	}
	documentID, hashStr, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("malformed git content url %q", url)
	}

	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	commitObj, err := repo.CommitObject(plumbing.NewHash(hashStr))
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hashStr, err)
	}
	file, err := commitObj.File(blobFileName)
	if err != nil {
		return nil, fmt.Errorf("load version blob from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GitStore) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *GitStore) openOrInit(documentID string) (*git.Repository, bool, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *GitStore) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}
