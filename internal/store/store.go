package store

import (
	"encoding/json"
	"time"
)

// TaskRecord is the storage representation of one polling task.
//
// TaskRecord is optimized for JSON serialization (used by the REST API,
// Server-Sent Events and the WebSocket stream). It is decoupled from the
// engine's snapshot type so the wire shape can evolve independently.
type TaskRecord struct {
	// Key is the task's unique identifier.
	Key string `json:"key"`

	// URL is the endpoint the task polls.
	URL string `json:"url"`

	// IntervalMs is the polling interval in milliseconds.
	IntervalMs int64 `json:"interval_ms"`

	// MaxRetries is the number of consecutive failures tolerated.
	MaxRetries int `json:"max_retries"`

	// Data is the last successfully fetched payload, null if never fetched.
	Data json.RawMessage `json:"data"`

	// IsPolling reports whether the task is actively scheduled.
	IsPolling bool `json:"is_polling"`

	// RetryCount is the number of consecutive failures since the last success.
	RetryCount int `json:"retry_count"`

	// Error is the last fetch error, nil after a success.
	Error *string `json:"error"`

	// LastFetchedAt is when Data was last replaced. Zero if never fetched.
	LastFetchedAt time.Time `json:"last_fetched_at"`

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`

	// Removed marks a deletion notice sent to subscribers.
	Removed bool `json:"removed,omitempty"`
}

// Store defines storage and subscription operations for task records.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a record keyed by Key and notifies all subscribers.
	Update(record TaskRecord)

	// Get returns the record stored under key.
	Get(key string) (TaskRecord, bool)

	// GetAll returns every stored record ordered by key.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []TaskRecord

	// Delete removes the record under key and notifies subscribers with a
	// record whose Removed field is set. Unknown keys are ignored.
	Delete(key string)

	// Subscribe returns a channel that receives record updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan TaskRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan TaskRecord)
}
