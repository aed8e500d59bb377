package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/domain"
)

// Accessor is the versioned remote accessor: every call goes through the
// retry policy for transient failures and through exactly one silent
// credential refresh on auth expiry. Callers never see ErrAuthExpired unless
// the refresh itself failed.
type Accessor struct {
	store  Store
	tokens TokenSource
	policy Policy
	log    zerolog.Logger
}

// NewAccessor creates an accessor around a store. tokens may be nil for
// backends with non-expiring credentials.
func NewAccessor(store Store, tokens TokenSource, policy Policy, log zerolog.Logger) *Accessor {
	return &Accessor{
		store:  store,
		tokens: tokens,
		policy: policy,
		log:    log.With().Str("service", "remote").Logger(),
	}
}

// GetMetadata fetches the file's revision, modified time and size.
func (a *Accessor) GetMetadata(ctx context.Context, fileID string) (*FileMeta, error) {
	var meta *FileMeta
	err := a.call(ctx, func() error {
		var err error
		meta, err = a.store.GetMetadata(ctx, fileID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for %s: %w", fileID, err)
	}
	return meta, nil
}

// Download fetches and decodes the trade document. Bytes that do not parse
// surface as ErrMalformedContent; the caller must pause sync, never treat
// the file as empty.
func (a *Accessor) Download(ctx context.Context, fileID string) (*domain.Document, error) {
	var raw []byte
	err := a.call(ctx, func() error {
		var err error
		raw, err = a.store.Download(ctx, fileID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", fileID, err)
	}

	doc, err := domain.DecodeDocument(raw)
	if err != nil {
		a.log.Error().Str("file_id", fileID).Err(err).Msg("Remote document does not parse")
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	return doc, nil
}

// Upload encodes and writes the document. A non-empty expectedRevision turns
// the write into an optimistic-concurrency one: a changed live revision comes
// back as *ConflictError carrying the live revision and modified time.
func (a *Accessor) Upload(ctx context.Context, fileID string, doc *domain.Document, expectedRevision string) (*FileMeta, error) {
	raw, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var meta *FileMeta
	err = a.call(ctx, func() error {
		var err error
		meta, err = a.store.Upload(ctx, fileID, raw, expectedRevision)
		return err
	})
	if err != nil {
		// Conflicts pass through untouched for arbitration.
		if _, ok := AsConflict(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to upload %s: %w", fileID, err)
	}

	a.log.Debug().
		Str("file_id", fileID).
		Str("revision", meta.Revision).
		Int("trades", len(doc.Trades)).
		Msg("Document uploaded")

	return meta, nil
}

// FindFile looks a file up by name within a folder.
func (a *Accessor) FindFile(ctx context.Context, name, folderID string) (*FileMeta, error) {
	var meta *FileMeta
	err := a.call(ctx, func() error {
		var err error
		meta, err = a.store.FindFile(ctx, name, folderID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find file %s: %w", name, err)
	}
	return meta, nil
}

// CreateFile creates a new document file.
func (a *Accessor) CreateFile(ctx context.Context, name string, doc *domain.Document, folderID string) (*FileMeta, error) {
	raw, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var meta *FileMeta
	err = a.call(ctx, func() error {
		var err error
		meta, err = a.store.CreateFile(ctx, name, raw, folderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", name, err)
	}

	a.log.Info().Str("file_id", meta.ID).Str("name", name).Msg("Remote file created")

	return meta, nil
}

// GetOrCreateFolder resolves the app folder, creating it when missing.
func (a *Accessor) GetOrCreateFolder(ctx context.Context, name string) (string, error) {
	var folderID string
	err := a.call(ctx, func() error {
		var err error
		folderID, err = a.store.GetOrCreateFolder(ctx, name)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve folder %s: %w", name, err)
	}
	return folderID, nil
}

// call runs fn with the transient-error retry policy, and on auth expiry
// refreshes credentials once and retries once.
func (a *Accessor) call(ctx context.Context, fn func() error) error {
	err := Do(ctx, a.policy, fn)
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return err
	}

	if a.tokens == nil {
		return err
	}

	a.log.Debug().Msg("Credentials expired, refreshing")

	if refreshErr := a.tokens.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("credential refresh failed: %w", refreshErr)
	}

	return Do(ctx, a.policy, fn)
}
