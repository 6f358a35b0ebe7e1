package store

import (
	"sort"
	"sync"
	"time"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Records are keyed by task key, with new records replacing previous values.
// Subscribers receive updates via buffered channels. Updates are sent
// non-blocking; if a subscriber's buffer is full, the update is dropped for
// that subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]TaskRecord
	subscribers map[chan TaskRecord]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]TaskRecord),
		subscribers: make(map[chan TaskRecord]struct{}),
	}
}

// Update stores a [TaskRecord] and notifies all subscribers.
func (m *MemoryStore) Update(record TaskRecord) {
	m.mu.Lock()
	m.records[record.Key] = record
	m.mu.Unlock()

	m.notifySubscribers(record)
}

// Get returns the record stored under key.
func (m *MemoryStore) Get(key string) (TaskRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[key]
	return record, ok
}

// GetAll returns a snapshot of all stored records ordered by key.
func (m *MemoryStore) GetAll() []TaskRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]TaskRecord, 0, len(m.records))
	for _, record := range m.records {
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Key < results[j].Key
	})
	return results
}

// Delete removes the record stored under key.
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	_, ok := m.records[key]
	delete(m.records, key)
	m.mu.Unlock()

	if ok {
		m.notifySubscribers(TaskRecord{Key: key, Removed: true, UpdatedAt: time.Now()})
	}
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan TaskRecord {
	ch := make(chan TaskRecord, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryStore) Unsubscribe(ch <-chan TaskRecord) {
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

// notifySubscribers sends the record to all active subscribers without blocking.
func (m *MemoryStore) notifySubscribers(record TaskRecord) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- record:
		default:
			// subscriber is slow, drop the message
		}
	}
}
