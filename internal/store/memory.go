// Package store keeps the notifications finalized by the manager so a host can look them up
// by id and list the most recent ones.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/protocol"
)

// DefaultHistorySize is the number of notifications Recent can return.
const DefaultHistorySize = 64

// Memory is an in-process notification store. Latest data per notification id is indexed in a
// concurrent map; arrival order is kept in a ring buffer holding at most size entries, the
// oldest dropped first. Safe for concurrent use.
type Memory struct {
	index   *hashmap.Map[string, protocol.NotificationData]
	mu      sync.Mutex // serializes history drains
	history mpmc.RichOverlappedRingBuffer[protocol.NotificationData]
	size    int
	logger  *logrus.Logger

	updates     atomic.Int64
	overwritten atomic.Int64
}

// NewMemory creates a store that remembers the last historySize notifications in arrival
// order. A non-positive size selects DefaultHistorySize.
func NewMemory(historySize int, logger *logrus.Logger) *Memory {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Memory{
		index:   hashmap.New[string, protocol.NotificationData](),
		// A ring of capacity c holds c-1 items.
		history: mpmc.NewOverlappedRingBuffer[protocol.NotificationData](uint32(historySize) + 1),
		size:    historySize,
		logger:  logger,
	}
}

// Update records a finalized notification, replacing any earlier data with the same id.
func (s *Memory) Update(data protocol.NotificationData) {
	s.index.Set(data.ID(), data)
	s.updates.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enqueueLocked(data); err != nil {
		s.logger.WithFields(logrus.Fields{
			"uid":   data.ID(),
			"error": err,
		}).Warn("Failed to record notification history")
	}
}

// Get returns the latest data stored for id.
func (s *Memory) Get(id string) (protocol.NotificationData, bool) {
	return s.index.Get(id)
}

// Remove forgets the indexed data for id. History entries are left to age out.
func (s *Memory) Remove(id string) bool {
	return s.index.Del(id)
}

// Len returns the number of indexed notifications.
func (s *Memory) Len() int {
	return s.index.Len()
}

// Recent returns up to n notifications, oldest first. n <= 0 returns the whole history.
func (s *Memory) Recent(n int) ([]protocol.NotificationData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []protocol.NotificationData
	for !s.history.IsEmpty() {
		rec, err := s.history.Dequeue()
		if err != nil {
			return nil, fmt.Errorf("history dequeue: %w", err)
		}
		all = append(all, rec)
	}
	if len(all) > s.size {
		all = all[len(all)-s.size:]
	}
	for _, rec := range all {
		if err := s.enqueueLocked(rec); err != nil {
			return nil, err
		}
	}

	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Stats returns the number of updates seen and history entries overwritten.
func (s *Memory) Stats() (updates, overwritten int64) {
	return s.updates.Load(), s.overwritten.Load()
}

func (s *Memory) enqueueLocked(data protocol.NotificationData) error {
	overwrites, err := s.history.EnqueueM(data)
	if err != nil {
		return fmt.Errorf("history enqueue: %w", err)
	}
	s.overwritten.Add(int64(overwrites))

	// The ring capacity is rounded up to a power of two, so trim to size here.
	for int(s.history.Size()) > s.size {
		if _, err := s.history.Dequeue(); err != nil {
			return fmt.Errorf("history trim: %w", err)
		}
		s.overwritten.Add(1)
	}
	return nil
}
