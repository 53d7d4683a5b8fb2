package playback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/shared"
)

const snapshotVersion = 1

type snapshotFile struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"saved_at"`
	Queue   queue.Snapshot `json:"queue"`
}

// SnapshotStore keeps the queue snapshot in a single JSON file.
type SnapshotStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path, now: time.Now}
}

func (s *SnapshotStore) Path() string { return s.path }

// Save replaces the stored snapshot. The file is written beside the target and renamed
// over it so a crash never leaves a torn snapshot.
func (s *SnapshotStore) Save(snap queue.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshotFile{Version: snapshotVersion, SavedAt: s.now().UTC(), Queue: snap}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %w", shared.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: snapshot dir: %w", shared.ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("%w: snapshot temp file: %w", shared.ErrPersistence, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write snapshot: %w", shared.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync snapshot: %w", shared.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close snapshot: %w", shared.ErrPersistence, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: replace snapshot: %w", shared.ErrPersistence, err)
	}
	return nil
}

// Load reads the stored snapshot, returning [shared.ErrNoSnapshot] when there is none.
func (s *SnapshotStore) Load() (queue.Snapshot, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return queue.Snapshot{}, shared.ErrNoSnapshot
	}
	if err != nil {
		return queue.Snapshot{}, fmt.Errorf("%w: read snapshot: %w", shared.ErrPersistence, err)
	}

	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return queue.Snapshot{}, fmt.Errorf("%w: decode snapshot: %w", shared.ErrPersistence, err)
	}
	if f.Version != snapshotVersion {
		return queue.Snapshot{}, fmt.Errorf("%w: unsupported snapshot version %d", shared.ErrPersistence, f.Version)
	}
	if err := f.Queue.Validate(); err != nil {
		return queue.Snapshot{}, fmt.Errorf("%w: %w", shared.ErrPersistence, err)
	}
	return f.Queue, nil
}

// Remove deletes the stored snapshot. A missing file is not an error.
func (s *SnapshotStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove snapshot: %w", shared.ErrPersistence, err)
	}
	return nil
}
