package store

import (
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Subscribers receive updates via buffered channels. Updates are sent
// non-blocking; if a subscriber's buffer is full, the update is dropped for
// that subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]JobRecord
	subscribers map[chan JobRecord]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]JobRecord),
		subscribers: make(map[chan JobRecord]struct{}),
	}
}

// Update stores rec unless the stored record for the same ID is newer.
//
// A summary already attached to the same submission is carried over when
// rec has none.
func (m *MemoryStore) Update(rec JobRecord) bool {
	m.mu.Lock()
	prev, ok := m.records[rec.ID]
	if ok && !supersedes(rec, prev) {
		m.mu.Unlock()
		return false
	}
	if ok && rec.Summary == nil && prev.QueuedAt.Equal(rec.QueuedAt) {
		rec.Summary = prev.Summary
	}
	rec.Deleted = false
	m.records[rec.ID] = rec
	m.mu.Unlock()

	m.notifySubscribers(rec)
	return true
}

// Attach sets the summary on the matching record and notifies subscribers.
func (m *MemoryStore) Attach(id string, queuedAt time.Time, summary stats.Summary) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || !rec.QueuedAt.Equal(queuedAt) {
		m.mu.Unlock()
		return false
	}
	rec.Summary = &summary
	m.records[id] = rec
	m.mu.Unlock()

	m.notifySubscribers(rec)
	return true
}

// Get returns the record stored for id.
func (m *MemoryStore) Get(id string) (JobRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// GetAll returns a snapshot of all records ordered by submission time.
func (m *MemoryStore) GetAll() []JobRecord {
	m.mu.RLock()
	results := make([]JobRecord, 0, len(m.records))
	for _, rec := range m.records {
		results = append(results, rec)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].QueuedAt.Equal(results[j].QueuedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].QueuedAt.Before(results[j].QueuedAt)
	})
	return results
}

// Delete removes the record for id if it belongs to the submission queued
// at queuedAt. A newer submission of the same job is left alone.
func (m *MemoryStore) Delete(id string, queuedAt time.Time) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || !rec.QueuedAt.Equal(queuedAt) {
		m.mu.Unlock()
		return false
	}
	delete(m.records, id)
	m.mu.Unlock()

	rec.Deleted = true
	m.notifySubscribers(rec)
	return true
}

// Subscribe creates a new subscription and returns a channel for receiving
// updates. Caller must call [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan JobRecord {
	ch := make(chan JobRecord, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan JobRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (m *MemoryStore) notifySubscribers(rec JobRecord) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- rec:
		default:
			// subscriber is slow, drop the message
		}
	}
}
