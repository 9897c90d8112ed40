package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fragnation-bot/internal/models"
)

// Store owns the durable registration document. All access is serialized
// through one mutex covering the full read-modify-write-and-persist cycle,
// so no two updates can interleave their write phases.
type Store struct {
	path string

	mu   sync.Mutex
	data *models.Snapshot
}

// Open loads the document at path, creating an empty one on first start.
// An unreadable or corrupt file is an error; callers treat it as fatal
// rather than risk clobbering real registrations.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.data = models.NewSnapshot()
		if err := s.write(s.data); err != nil {
			return nil, fmt.Errorf("init %s: %w", path, err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sn := models.NewSnapshot()
	if err := json.Unmarshal(raw, sn); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sn.Solos == nil {
		sn.Solos = map[string]*models.SoloRegistration{}
	}
	if sn.Teams == nil {
		sn.Teams = map[string]*models.Team{}
	}
	if sn.Payments == nil {
		sn.Payments = map[string]*models.PaymentRecord{}
	}
	s.data = sn
	return s, nil
}

// View runs fn with the current snapshot under the store lock. fn must not
// retain references past its return and must not mutate.
func (s *Store) View(fn func(*models.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

// Update applies fn to a working copy of the snapshot and commits it,
// persisting the whole document atomically before the new state becomes
// visible. When fn returns an error nothing changes, in memory or on disk.
func (s *Store) Update(fn func(*models.Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := clone(s.data)
	if err != nil {
		return err
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// Snapshot returns a deep copy for read-only consumers that run outside
// the store lock, like the roster export.
func (s *Store) Snapshot() (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.data)
}

// write persists via temp file + rename so a crash mid-write never leaves
// a partially-written document behind.
func (s *Store) write(sn *models.Snapshot) error {
	raw, err := json.MarshalIndent(sn, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func clone(sn *models.Snapshot) (*models.Snapshot, error) {
	raw, err := json.Marshal(sn)
	if err != nil {
		return nil, err
	}
	out := models.NewSnapshot()
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
