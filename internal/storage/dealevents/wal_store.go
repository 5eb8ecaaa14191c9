// Package dealevents journals deal lifecycle events in a write-ahead log.
package dealevents

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	segmentLimit = 100
	maxSegments  = 10

	keyPrefix = "deal_event_"
)

// WALStore persists deal events in a WAL. Old segments are evicted, so the
// journal is a recent activity feed rather than the deal history.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed event journal in dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		return nil, errors.Wrap(domain.ErrConfig, "deal events dir is required")
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "deal_events_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init deal events WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes event to the journal.
func (s *WALStore) Append(event domain.DealEvent) error {
	if s == nil || s.wal == nil {
		return errors.New("deal event store is not initialized")
	}
	if event.DealID == "" {
		return errors.New("deal event requires a deal id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := domain.DealEventRecord{Index: s.wal.CurrentIndex() + 1, Event: event}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal deal event")
	}

	return s.wal.Write(record.Index, keyPrefix+event.DealID, payload)
}

// EventsAfter returns the retained events written after the given index,
// oldest first.
func (s *WALStore) EventsAfter(index uint64) ([]domain.DealEventRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("deal event store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= index {
		return nil, nil
	}

	var records []domain.DealEventRecord
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, keyPrefix) {
			continue
		}

		var record domain.DealEventRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			return nil, errors.Wrapf(err, "decode deal event %s", msg.Key)
		}
		if record.Index > index {
			records = append(records, record)
		}
	}

	return records, nil
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
		return errors.New("deal event store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
