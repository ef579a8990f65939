// Package session holds the persisted auth session: the token the event
// stream connects with and the flag the route guard checks.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/xid"
)

// State is the persisted session state
type State struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Token           string `json:"token"`
}

// SignedIn reports whether the state carries a usable session. The flag
// alone is not enough because the stream rejects an empty token.
func (s State) SignedIn() bool {
	return s.IsAuthenticated && s.Token != ""
}

// Record is the on-disk and cookie envelope of State
type Record struct {
	State State `json:"state"`
}

// ParseRecord decodes a session record
func ParseRecord(data []byte) (State, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return State{}, errors.Wrap(err, errors.ErrorTypeValidation, "INVALID_SESSION", "failed to parse session record")
	}
	return r.State, nil
}

// MarshalRecord encodes a session record
func MarshalRecord(state State) ([]byte, error) {
	data, err := json.Marshal(Record{State: state})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal session")
	}
	return data, nil
}

// TokenProvider supplies the current bearer token and reports changes
type TokenProvider interface {
	Token() string
	OnChange(fn func(token string)) domain.Disposer
}

// FileStore keeps the session in a JSON file
type FileStore struct {
	path     string
	logger   *logging.Logger
	debounce time.Duration

	mu        sync.RWMutex
	state     State
	listeners map[string]func(token string)
}

// Open loads the session file at path. A missing file is an empty session.
func Open(path string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	s := &FileStore{
		path:      path,
		logger:    logger.Component("session"),
		debounce:  50 * time.Millisecond,
		listeners: make(map[string]func(string)),
	}

	state, err := s.read()
	if err != nil {
		return nil, err
	}
	s.state = state

	return s, nil
}

// Path returns the session file path
func (s *FileStore) Path() string {
	return s.path
}

// Token returns the current token
func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// IsAuthenticated reports whether the session is signed in
func (s *FileStore) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SignedIn()
}

// State returns the current state
func (s *FileStore) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnChange registers fn to run whenever the token changes
func (s *FileStore) OnChange(fn func(token string)) domain.Disposer {
	id := xid.New().String()

	s.mu.Lock()
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Save writes state to disk and applies it
func (s *FileStore) Save(state State) error {
	data, err := json.MarshalIndent(Record{State: state}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal session")
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "SESSION_WRITE_FAILED", "failed to create session directory")
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "SESSION_WRITE_FAILED", "failed to write session")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "SESSION_WRITE_FAILED", "failed to replace session")
	}

	s.apply(state)
	return nil
}

// Reload re-reads the session file
func (s *FileStore) Reload() error {
	state, err := s.read()
	if err != nil {
		return err
	}
	s.apply(state)
	return nil
}

// Watch reloads the session whenever the file changes, until ctx is done.
// The parent directory is watched so that atomic replaces are seen.
func (s *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "WATCH_FAILED", "failed to create watcher")
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "WATCH_FAILED", "failed to watch session directory").WithDetails(dir)
	}

	s.logger.Info("watching session file", "path", s.path)

	name := filepath.Clean(s.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(s.debounce)

		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("failed to reload session", "error", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("session watcher error", "error", err)
		}
	}
}

func (s *FileStore) read() (State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, errors.Wrap(err, errors.ErrorTypeInternal, "SESSION_READ_FAILED", "failed to read session").WithDetails(s.path)
	}
	if len(data) == 0 {
		return State{}, nil
	}
	return ParseRecord(data)
}

// apply swaps the state and notifies listeners outside the lock when the
// token changed
func (s *FileStore) apply(state State) {
	s.mu.Lock()
	changed := s.state.Token != state.Token
	s.state = state

	var listeners []func(string)
	if changed {
		listeners = make([]func(string), 0, len(s.listeners))
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	if !changed {
		return
	}

	s.logger.Info("session token changed", "authenticated", state.IsAuthenticated)
	for _, fn := range listeners {
		fn(state.Token)
	}
}

var _ TokenProvider = (*FileStore)(nil)
