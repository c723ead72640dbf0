package filestore

import (
	"io"
)

// BlobStore stores media content addressed by its hash. The production
// deployment points this at object storage; the local implementation
// below is the single-node stand-in.
type BlobStore interface {
	// Save stores the content under the given hash. Idempotent: saving a
	// hash that already exists returns nil.
	Save(r io.Reader, hash string) error

	// Get retrieves the content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
