// Package threads checkpoints agent conversation threads in a write-ahead log.
package threads

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

const (
	defaultThreadDir   = "./wal/threads"
	threadSegmentLimit = 20
	threadMaxSegments  = 3
	threadKeyPrefix    = "thread_"
)

// WALStore keeps the latest checkpoint of every thread. Each Save appends a full
// checkpoint, old ones age out with rotated segments.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed thread store under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultThreadDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "thread_",
		SegmentThreshold: threadSegmentLimit,
		MaxSegments:      threadMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init thread WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends a checkpoint of the thread.
func (s *WALStore) Save(thread domain.Thread) error {
	if s == nil || s.wal == nil {
		return errors.New("thread store is not initialized")
	}
	if thread.ID == "" {
		return errors.New("thread id is required")
	}

	payload, err := json.Marshal(thread)
	if err != nil {
		return errors.Wrap(err, "marshal thread")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, threadKeyPrefix+thread.ID, payload)
}

// Load returns the latest checkpoint of the thread, or an empty thread when none is stored.
func (s *WALStore) Load(id string) (domain.Thread, error) {
	if s == nil || s.wal == nil {
		return domain.Thread{}, errors.New("thread store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key := threadKeyPrefix + id
	for idx := s.wal.CurrentIndex(); idx > 0; idx-- {
		k, payload, err := s.wal.Get(idx)
		if err != nil {
			// corrupted checkpoint, fall back to an older one
			continue
		}
		if k == "" {
			// older segments were rotated away
			break
		}
		if k != key {
			continue
		}
		var thread domain.Thread
		if err := json.Unmarshal(payload, &thread); err != nil {
			return domain.Thread{}, errors.Wrap(err, "decode thread")
		}
		return thread, nil
	}

	return domain.Thread{ID: id}, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("thread store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
