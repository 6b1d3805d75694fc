// Package cycles persists optimization cycle reports in a write-ahead log.
package cycles

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

const (
	defaultCycleDir   = "./wal/cycles"
	cycleSegmentLimit = 50
	cycleMaxSegments  = 10
	cycleKeyPrefix    = "cycle_"
)

// WALStore persists cycle reports in a WAL for history and streaming purposes.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed cycle report store under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultCycleDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "cycle_",
		SegmentThreshold: cycleSegmentLimit,
		MaxSegments:      cycleMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init cycle WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save writes the cycle report to WAL and returns its index.
func (s *WALStore) Save(result domain.CycleResult) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errors.New("cycle store is not initialized")
	}
	if result.ID == "" {
		return 0, errors.New("cycle id is required")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return 0, errors.Wrap(err, "marshal cycle result")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, cycleKeyPrefix+result.ID, payload); err != nil {
		return 0, errors.Wrap(err, "write cycle result")
	}
	return nextIndex, nil
}

// EventsAfter returns all cycle reports written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]domain.CycleRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("cycle store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.CycleRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, cycleKeyPrefix) {
			continue
		}
		var result domain.CycleResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, errors.Wrap(err, "decode cycle result")
		}
		records = append(records, domain.CycleRecord{Index: idx, Result: result})
	}

	return records, nil
}

// Latest returns up to n most recent cycle reports, oldest first.
func (s *WALStore) Latest(n int) ([]domain.CycleRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	current := s.CurrentIndex()
	var from uint64
	if current > uint64(n) {
		from = current - uint64(n)
	}
	return s.EventsAfter(from)
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("cycle store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
