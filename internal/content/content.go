// Package content persists opaque version blobs for the versioning
// engine. Backends share one contract: Put stores bytes for a document
// version and returns an addressable URL plus a checksum; Get resolves
// a URL produced by the same backend back to the bytes.
package content

import (
	"fmt"
	"strings"

	"redline/collab/internal/util"
)

// PutResult describes where a stored blob landed.
type PutResult struct {
	URL      string
	Checksum string
	Size     int64
}

func newPutResult(url string, data []byte) PutResult {
	return PutResult{
		URL:      url,
		Checksum: util.Checksum(data),
		Size:     int64(len(data)),
	}
}

// splitURL pulls the backend scheme and the opaque locator out of a
// content URL like "minio://bucket/documents/doc_1/v3".
func splitURL(url string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok || scheme == "" || rest == "" {
		return "", "", fmt.Errorf("malformed content url %q", url)
	}
	return scheme, rest, nil
}
