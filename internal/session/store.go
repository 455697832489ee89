package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const storeVersion = 1

// envelope is the on-disk form of a saved session. Blob is opaque to
// Postyard and only meaningful to the platform client that produced it.
type envelope struct {
	Version  int       `json:"version"`
	Username string    `json:"username"`
	SavedAt  time.Time `json:"saved_at"`
	Blob     []byte    `json:"blob"`
}

// Store persists one account's session blob at a fixed path.
type Store struct {
	Path string
}

// NewStore creates a Store for path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load returns the saved blob for username. A missing, unreadable, corrupt
// or foreign session file reports ok=false so the caller logs in fresh.
func (s *Store) Load(username string) (blob []byte, ok bool) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.Version != storeVersion || env.Username != username || len(env.Blob) == 0 {
		return nil, false
	}
	return env.Blob, true
}

// Save writes blob for username, replacing any previous session.
func (s *Store) Save(username string, blob []byte, now time.Time) error {
	data, err := json.MarshalIndent(envelope{
		Version:  storeVersion,
		Username: username,
		SavedAt:  now.UTC(),
		Blob:     blob,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("session: write %s: %w", s.Path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("session: write %s: %w", s.Path, err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("session: replace %s: %w", s.Path, err)
	}
	return nil
}

// Remove deletes the session file. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: remove %s: %w", s.Path, err)
	}
	return nil
}
