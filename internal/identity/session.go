package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches the burst of events a single session write produces.
const DefaultDebounce = 100 * time.Millisecond

type session struct {
	OwnerID    string    `json:"owner_id"`
	SignedInAt time.Time `json:"signed_in_at,omitempty"`
}

// WriteSession records ownerID as signed in. The file is replaced atomically.
func WriteSession(path, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner id cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(session{OwnerID: ownerID, SignedInAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace session: %w", err)
	}
	return nil
}

// ClearSession signs out. A missing session file is not an error.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// ReadSession returns the identity recorded at path. A missing or empty file
// is the local identity.
func ReadSession(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Local(), nil
	}
	if err != nil {
		return Local(), fmt.Errorf("failed to read session: %w", err)
	}
	if len(data) == 0 {
		return Local(), nil
	}

	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return Local(), fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	return Authenticated(s.OwnerID), nil
}

// SessionFile is a Provider backed by a session file on disk.
type SessionFile struct {
	path     string
	logger   *log.Logger
	debounce time.Duration

	mu      sync.Mutex
	current Identity
	subs    subscribers
}

// NewSessionFile creates a provider for path and reads it once. An unreadable
// session is logged and treated as local.
// If logger is nil, logging is discarded.
func NewSessionFile(path string, logger *log.Logger) *SessionFile {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sf := &SessionFile{
		path:     filepath.Clean(path),
		logger:   logger,
		debounce: DefaultDebounce,
	}
	id, err := ReadSession(sf.path)
	if err != nil {
		logger.Printf("WARNING: %v, continuing signed out", err)
	}
	sf.current = id
	return sf
}

// Path returns the session file location.
func (sf *SessionFile) Path() string {
	return sf.path
}

// Current implements Provider.
func (sf *SessionFile) Current() Identity {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.current
}

// Subscribe implements Provider.
func (sf *SessionFile) Subscribe(fn func(Identity)) func() {
	return sf.subs.add(fn)
}

// Reload re-reads the session file and notifies subscribers if the identity
// changed.
func (sf *SessionFile) Reload() (Identity, error) {
	id, err := ReadSession(sf.path)
	if err != nil {
		return sf.Current(), err
	}

	sf.mu.Lock()
	changed := !sf.current.Equal(id)
	sf.current = id
	sf.mu.Unlock()

	if changed {
		sf.logger.Printf("Identity changed to %s", id)
		sf.subs.notify(id)
	}
	return id, nil
}

// Watch follows the session file until ctx is done. The parent directory is
// watched so that atomic replacement and deletion are seen.
func (sf *SessionFile) Watch(ctx context.Context) error {
	dir := filepath.Dir(sf.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	// Catch writes that landed before the watch was registered.
	if _, err := sf.Reload(); err != nil {
		sf.logger.Printf("WARNING: %v", err)
	}

	timer := time.NewTimer(sf.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != sf.path {
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(sf.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sf.logger.Printf("Watcher error: %v", err)

		case <-timer.C:
			if _, err := sf.Reload(); err != nil {
				sf.logger.Printf("WARNING: %v", err)
			}
		}
	}
}
