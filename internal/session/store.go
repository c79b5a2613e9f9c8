// Package session implements the authenticated-state reuse model: a keyed
// store of captured browser sessions with expiry, the adapter that captures
// state from a live execution context after a successful login, and the
// injector that restores it into fresh contexts before non-login units run.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/config"
)

// ErrMiss is returned by Get when no usable record exists for a key. Expired
// and invalidated records are misses, not errors.
var ErrMiss = errors.New("session: no valid record for key")

// Store is the durable keyed storage of captured authentication state. It is
// the only shared mutable resource in the execution pipeline; get, put and
// invalidate are serialized so a capture-then-read sequence across batches
// sharing a key can never produce a torn read.
type Store struct {
	mu      sync.Mutex
	records map[schemas.SessionKey]*schemas.SessionRecord

	timeout time.Duration
	persist bool
	dir     string
	logger  *zap.Logger

	// now is the store's clock, overridable in tests.
	now func() time.Time
}

// NewStore builds a Store from the session configuration.
func NewStore(cfg config.SessionConfig, logger *zap.Logger) *Store {
	return &Store{
		records: make(map[schemas.SessionKey]*schemas.SessionRecord),
		timeout: cfg.Timeout(),
		persist: cfg.Persist,
		dir:     cfg.Dir,
		logger:  logger.Named("session_store"),
		now:     time.Now,
	}
}

// Get returns the record for key if it exists, is valid, and has not expired.
// Anything else is a miss; a dead record found on the way is evicted lazily.
func (s *Store) Get(key schemas.SessionKey) (*schemas.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrMiss
	}
	if !rec.Usable(s.now()) {
		delete(s.records, key)
		s.removeFile(key)
		s.logger.Debug("Evicted stale session record",
			zap.String("key", key.String()),
			zap.Bool("valid", rec.Valid),
			zap.Time("expires_at", rec.ExpiresAt),
		)
		return nil, ErrMiss
	}

	cp := *rec
	return &cp, nil
}

// Put overwrites any existing record for the key. The expiry is fixed here,
// at insertion time; reads never extend it.
func (s *Store) Put(key schemas.SessionKey, rec *schemas.SessionRecord) {
	now := s.now()
	cp := *rec
	cp.Key = key
	cp.CreatedAt = now
	cp.ExpiresAt = now.Add(s.timeout)
	cp.Valid = true

	s.mu.Lock()
	s.records[key] = &cp
	s.mu.Unlock()

	s.logger.Info("Stored session record",
		zap.String("key", key.String()),
		zap.Int("cookies", len(cp.Cookies)),
		zap.Int("auth_tokens", len(cp.AuthTokens)),
		zap.Time("expires_at", cp.ExpiresAt),
	)

	if s.persist {
		if err := s.writeFile(&cp); err != nil {
			s.logger.Warn("Failed to persist session record", zap.String("key", key.String()), zap.Error(err))
		}
	}
}

// Invalidate marks the record for key unusable. Idempotent; a missing record
// is a no-op.
func (s *Store) Invalidate(key schemas.SessionKey) {
	s.mu.Lock()
	rec, ok := s.records[key]
	if ok {
		rec.Valid = false
	}
	s.mu.Unlock()

	s.removeFile(key)
	if ok {
		s.logger.Info("Invalidated session record", zap.String("key", key.String()))
	}
}

// Persist snapshots every usable record to the sessions directory.
func (s *Store) Persist() error {
	if !s.persist {
		return nil
	}

	s.mu.Lock()
	usable := make([]*schemas.SessionRecord, 0, len(s.records))
	now := s.now()
	for _, rec := range s.records {
		if rec.Usable(now) {
			cp := *rec
			usable = append(usable, &cp)
		}
	}
	s.mu.Unlock()

	for _, rec := range usable {
		if err := s.writeFile(rec); err != nil {
			return fmt.Errorf("persisting session %s: %w", rec.Key.String(), err)
		}
	}
	return nil
}

// Restore loads persisted records from the sessions directory, applying the
// same validity check Get does. Corrupted or stale files are skipped with a
// warning, never repaired. A missing directory is not an error.
func (s *Store) Restore() (int, error) {
	if !s.persist {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading sessions dir %s: %w", s.dir, err)
	}

	loaded := 0
	now := s.now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable session file", zap.String("file", path), zap.Error(err))
			continue
		}

		var rec schemas.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("Skipping corrupted session file", zap.String("file", path), zap.Error(err))
			continue
		}
		if err := rec.Key.Validate(); err != nil {
			s.logger.Warn("Skipping session file with malformed key", zap.String("file", path), zap.Error(err))
			continue
		}
		if !rec.Usable(now) {
			s.logger.Debug("Skipping expired persisted session", zap.String("key", rec.Key.String()))
			continue
		}

		s.mu.Lock()
		s.records[rec.Key] = &rec
		s.mu.Unlock()
		loaded++
	}

	if loaded > 0 {
		s.logger.Info("Restored persisted sessions", zap.Int("count", loaded))
	}
	return loaded, nil
}

// writeFile serializes one record to its deterministic per-key file.
func (s *Store) writeFile(rec *schemas.SessionRecord) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating sessions dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	path := filepath.Join(s.dir, fileName(rec.Key))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

func (s *Store) removeFile(key schemas.SessionKey) {
	if !s.persist {
		return
	}
	path := filepath.Join(s.dir, fileName(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove persisted session file", zap.String("file", path), zap.Error(err))
	}
}

var fileNameSanitizer = strings.NewReplacer("://", "_", ".", "_", ":", "_", "/", "_", "@", "_")

// fileName derives a deterministic, collision-free filename for a key: a
// sanitized readable prefix plus a short digest of the exact key.
func fileName(key schemas.SessionKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	prefix := fileNameSanitizer.Replace(key.Origin + "_" + key.Principal)
	return fmt.Sprintf("%s-%s.json", prefix, hex.EncodeToString(sum[:4]))
}
