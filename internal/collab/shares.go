package collab

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"redline/collab/internal/access"
	"redline/collab/internal/store"
	"redline/collab/internal/util"
)

const shareTokenLength = 32

type ShareInput struct {
	Type        string                 `json:"type"`
	SharedWith  string                 `json:"sharedWith,omitempty"`
	AccessLevel string                 `json:"accessLevel"`
	Permissions store.SharePermissions `json:"permissions"`
	ExpiresAt   *time.Time             `json:"expiresAt,omitempty"`
	MaxViews    *int                   `json:"maxViews,omitempty"`
	AllowedIPs  []string               `json:"allowedIps,omitempty"`
	Password    string                 `json:"-"`
	Watermark   bool                   `json:"watermark"`
}

type ShareAccessInput struct {
	Action    string `json:"action"`
	ViewerID  string `json:"viewerId,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// ShareAnalyticsView is the per-share report: the stored counters plus
// the full access log.
type ShareAnalyticsView struct {
	Share     store.DocumentShare       `json:"share"`
	ViewCount int                       `json:"viewCount"`
	History   []store.ShareAccessRecord `json:"history"`
}

// ShareDocument creates a grant. Link shares get a random token;
// passwords are bcrypt-hashed before they touch the store.
func (s *Service) ShareDocument(ctx context.Context, documentID, userID string, input ShareInput) (store.DocumentShare, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
		return store.DocumentShare{}, err
	}
	if _, ok := allowedShareTypes[input.Type]; !ok {
		return store.DocumentShare{}, validationError("invalid share type: " + input.Type)
	}
	level := access.NormalizeLevel(input.AccessLevel)
	if !level.Valid() {
		return store.DocumentShare{}, validationError("invalid access level: " + input.AccessLevel)
	}
	if input.Type != "link" && input.SharedWith == "" {
		return store.DocumentShare{}, validationError("sharedWith is required for " + input.Type + " shares")
	}
	if input.MaxViews != nil && *input.MaxViews < 1 {
		return store.DocumentShare{}, validationError("maxViews must be at least 1")
	}
	for _, allowed := range input.AllowedIPs {
		if net.ParseIP(allowed) == nil {
			if _, _, err := net.ParseCIDR(allowed); err != nil {
				return store.DocumentShare{}, validationError("invalid allowed IP: " + allowed)
			}
		}
	}

	share := store.DocumentShare{
		ID:          util.NewID("shr"),
		DocumentID:  documentID,
		Type:        input.Type,
		SharedWith:  input.SharedWith,
		AccessLevel: string(level),
		Permissions: input.Permissions,
		Restrictions: store.ShareRestrictions{
			ExpiresAt:  input.ExpiresAt,
			MaxViews:   input.MaxViews,
			AllowedIPs: input.AllowedIPs,
			Watermark:  input.Watermark,
		},
		IsActive:  true,
		CreatedBy: userID,
	}
	if input.Type == "link" {
		share.Token = util.NewToken(shareTokenLength)
	}
	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return store.DocumentShare{}, storageError("hash share password", err)
		}
		hashed := string(hash)
		share.Restrictions.PasswordHash = &hashed
	}

	if err := s.store.InsertShare(ctx, share); err != nil {
		return store.DocumentShare{}, storageError("create share", err)
	}

	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "permission",
		Operation:   "create",
		Description: "shared document (" + share.Type + ", " + share.AccessLevel + ")",
		UserID:      userID,
	})
	if share.Type == "email" {
		s.emit(ctx, EventShareNotification, documentID, userID, map[string]any{
			"shareId":     share.ID,
			"recipient":   share.SharedWith,
			"accessLevel": share.AccessLevel,
		})
	}
	return share, nil
}

// RecordShareAccess counts one access against a share. Every restriction
// is checked before anything is written: a rejected access leaves no
// trace in the counters or the log.
func (s *Service) RecordShareAccess(ctx context.Context, shareID string, input ShareAccessInput) error {
	if _, ok := allowedShareActions[input.Action]; !ok {
		return validationError("invalid share action: " + input.Action)
	}
	share, err := s.store.GetShare(ctx, shareID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("share not found")
	}
	if err != nil {
		return storageError("load share", err)
	}

	if err := s.checkShareUsable(share, input.IP); err != nil {
		return err
	}
	if input.Action == "view" && share.Restrictions.MaxViews != nil &&
		share.Analytics.ViewCount >= *share.Restrictions.MaxViews {
		return domainError(http.StatusForbidden, CodeShareExhausted,
			"share view limit reached", map[string]any{"maxViews": *share.Restrictions.MaxViews})
	}

	applied, err := s.store.ApplyShareAccess(ctx, store.ShareAccessRecord{
		ShareID:   shareID,
		Action:    input.Action,
		ViewerID:  input.ViewerID,
		IP:        input.IP,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		return storageError("record share access", err)
	}
	if !applied {
		// The store re-checks the budget under the row lock; losing here
		// means a concurrent view consumed the last slot, or the share
		// was revoked between our read and the write.
		if input.Action == "view" && share.Restrictions.MaxViews != nil {
			return domainError(http.StatusForbidden, CodeShareExhausted,
				"share view limit reached", map[string]any{"maxViews": *share.Restrictions.MaxViews})
		}
		return accessDenied("share is no longer active")
	}
	return nil
}

// AuthenticateShare resolves a link share by token and verifies its
// password when one is set. It does not count an access; callers follow
// up with RecordShareAccess once content is actually served.
func (s *Service) AuthenticateShare(ctx context.Context, token, password string) (store.DocumentShare, error) {
	share, err := s.store.GetShareByToken(ctx, token)
	if err != nil {
		return store.DocumentShare{}, storageError("load share", err)
	}
	if share == nil {
		return store.DocumentShare{}, notFound("share not found")
	}
	if err := s.checkShareUsable(*share, ""); err != nil {
		return store.DocumentShare{}, err
	}
	if share.Restrictions.MaxViews != nil && share.Analytics.ViewCount >= *share.Restrictions.MaxViews {
		return store.DocumentShare{}, domainError(http.StatusForbidden, CodeShareExhausted,
			"share view limit reached", map[string]any{"maxViews": *share.Restrictions.MaxViews})
	}
	if share.Restrictions.PasswordHash != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(*share.Restrictions.PasswordHash), []byte(password)); err != nil {
			return store.DocumentShare{}, accessDenied("invalid share password")
		}
	}
	return *share, nil
}

// RevokeShare deactivates a grant. The row stays for the audit trail.
func (s *Service) RevokeShare(ctx context.Context, documentID, shareID, userID string) error {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
		return err
	}
	share, err := s.loadDocumentShare(ctx, documentID, shareID)
	if err != nil {
		return err
	}
	if err := s.store.RevokeShare(ctx, shareID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("share not found")
		}
		return storageError("revoke share", err)
	}
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "permission",
		Operation:   "delete",
		Description: "revoked share (" + share.Type + ", " + share.AccessLevel + ")",
		UserID:      userID,
	})
	return nil
}

func (s *Service) UpdateSharePermissions(ctx context.Context, documentID, shareID, userID string, level string, perms store.SharePermissions) (store.DocumentShare, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
		return store.DocumentShare{}, err
	}
	normalized := access.NormalizeLevel(level)
	if !normalized.Valid() {
		return store.DocumentShare{}, validationError("invalid access level: " + level)
	}
	share, err := s.loadDocumentShare(ctx, documentID, shareID)
	if err != nil {
		return store.DocumentShare{}, err
	}

	share.AccessLevel = string(normalized)
	share.Permissions = perms
	if err := s.store.UpdateShare(ctx, share); err != nil {
		return store.DocumentShare{}, storageError("update share", err)
	}

	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "permission",
		Operation:   "update",
		Description: "updated share permissions (" + share.AccessLevel + ")",
		UserID:      userID,
	})
	return share, nil
}

func (s *Service) ListShares(ctx context.Context, documentID, userID string) ([]store.DocumentShare, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
		return nil, err
	}
	shares, err := s.store.ListShares(ctx, documentID)
	if err != nil {
		return nil, storageError("list shares", err)
	}
	return shares, nil
}

func (s *Service) GetShareAnalytics(ctx context.Context, documentID, shareID, userID string) (ShareAnalyticsView, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
		return ShareAnalyticsView{}, err
	}
	share, err := s.loadDocumentShare(ctx, documentID, shareID)
	if err != nil {
		return ShareAnalyticsView{}, err
	}
	history, err := s.store.ListShareAccess(ctx, shareID)
	if err != nil {
		return ShareAnalyticsView{}, storageError("list share access", err)
	}
	return ShareAnalyticsView{
		Share:     share,
		ViewCount: share.Analytics.ViewCount,
		History:   history,
	}, nil
}

// checkShareUsable rejects inert, expired, or IP-restricted shares. The
// view budget is checked separately because only views consume it.
func (s *Service) checkShareUsable(share store.DocumentShare, ip string) error {
	if !share.IsActive {
		return accessDenied("share has been revoked")
	}
	if share.Restrictions.ExpiresAt != nil && !share.Restrictions.ExpiresAt.After(s.now()) {
		return domainError(http.StatusForbidden, CodeShareExpired, "share has expired", map[string]any{
			"expiredAt": share.Restrictions.ExpiresAt,
		})
	}
	if len(share.Restrictions.AllowedIPs) > 0 && !ipAllowed(ip, share.Restrictions.AllowedIPs) {
		return accessDenied("access from this address is not permitted")
	}
	return nil
}

func (s *Service) loadDocumentShare(ctx context.Context, documentID, shareID string) (store.DocumentShare, error) {
	share, err := s.store.GetShare(ctx, shareID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentShare{}, notFound("share not found")
	}
	if err != nil {
		return store.DocumentShare{}, storageError("load share", err)
	}
	if share.DocumentID != documentID {
		return store.DocumentShare{}, notFound("share not found")
	}
	return share, nil
}

// ipAllowed matches against exact addresses or CIDR blocks. An empty
// caller IP never matches a restricted share.
func ipAllowed(ip string, allowed []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, entry := range allowed {
		if exact := net.ParseIP(entry); exact != nil {
			if exact.Equal(parsed) {
				return true
			}
			continue
		}
		if _, block, err := net.ParseCIDR(entry); err == nil && block.Contains(parsed) {
			return true
		}
	}
	return false
}
