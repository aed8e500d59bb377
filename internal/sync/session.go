package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Session is the minimal state persisted across restarts: enough to resume
// against the same remote resources without recreating them. Revision
// bookkeeping beyond LocalVersion is deliberately not persisted; a restart
// re-observes the remote.
type Session struct {
	FileID       string `msgpack:"file_id"`
	FolderID     string `msgpack:"folder_id"`
	LocalVersion string `msgpack:"local_version"`
}

// SessionStore persists the session to a file in the data dir.
type SessionStore struct {
	path string
}

// NewSessionStore creates a session store
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Load reads the persisted session. A missing file returns an empty session.
func (s *SessionStore) Load() (*Session, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	var session Session
	if err := msgpack.Unmarshal(raw, &session); err != nil {
		// A corrupt session file is not fatal; reconnection rebuilds it.
		return &Session{}, nil
	}

	return &session, nil
}

// Save writes the session atomically (write to temp, rename).
func (s *SessionStore) Save(session *Session) error {
	raw, err := msgpack.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session state: %w", err)
	}

	return nil
}

// Clear removes the persisted session.
func (s *SessionStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session state: %w", err)
	}
	return nil
}
