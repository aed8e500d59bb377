package remote

import (
	"context"
	"time"
)

// FileMeta describes a remote file. Revision is the hosting service's opaque
// token; it changes on every write, automated or manual, and is the primary
// change-detection signal.
type FileMeta struct {
	ID           string
	Name         string
	Revision     string
	ModifiedTime time.Time
	Size         int64
}

// Store is the raw transport to a file-hosting backend. Implementations map
// backend-specific failures onto the package error taxonomy; they do not
// retry or refresh credentials, the Accessor owns that.
type Store interface {
	// GetMetadata fetches revision, modified time and size without content.
	GetMetadata(ctx context.Context, fileID string) (*FileMeta, error)

	// Download returns the file's raw bytes.
	Download(ctx context.Context, fileID string) ([]byte, error)

	// Upload writes content. A non-empty expectedRevision makes the write
	// conditional: if the live revision differs, the store returns a
	// *ConflictError instead of overwriting.
	Upload(ctx context.Context, fileID string, content []byte, expectedRevision string) (*FileMeta, error)

	// FindFile looks a file up by name within a folder. Returns ErrNotFound
	// when absent.
	FindFile(ctx context.Context, name, folderID string) (*FileMeta, error)

	// CreateFile creates a new file with the given content.
	CreateFile(ctx context.Context, name string, content []byte, folderID string) (*FileMeta, error)

	// GetOrCreateFolder resolves a folder by name, creating it when missing.
	GetOrCreateFolder(ctx context.Context, name string) (string, error)
}

// TokenSource refreshes expired credentials. Backends whose credentials never
// expire use a nil source.
type TokenSource interface {
	Refresh(ctx context.Context) error
}
