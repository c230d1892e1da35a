package backendauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types emitted over the client's lifetime.
const (
	// EventRefreshSucceeded fires after a successful token endpoint refresh.
	EventRefreshSucceeded = "refresh_succeeded"
	// EventRefreshFailed fires after a failed refresh; the cache is cleared.
	EventRefreshFailed = "refresh_failed"
	// EventTokenCleared fires when the local cache is dropped (logout, failure,
	// or a cleared broadcast from a sibling process).
	EventTokenCleared = "token_cleared"
	// EventBroadcastAdopted fires when a sibling's announced token replaces the
	// local cache.
	EventBroadcastAdopted = "broadcast_adopted"
	// EventLockContended fires when a refresh found the lock held elsewhere.
	EventLockContended = "lock_contended"
	// EventUnauthorizedRetry fires when a 401 triggers the single forced
	// refresh-and-retry cycle.
	EventUnauthorizedRetry = "unauthorized_retry"
)

// Event is one token lifecycle observation. The token value itself is never
// carried; ExpiresAt identifies the generation instead.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Owner     string            `json:"owner,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitzero"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventSink receives events from the async dispatcher. Emit must be safe for
// concurrent use.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards every event.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events to a buffered channel, for consumers that want
// to process them on their own goroutine.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

// Emit forwards the event, blocking until delivered or ctx is done.
func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the sink's receive side.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes events as newline-delimited JSON.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit marshals and writes one event line. Marshal failures are dropped.
func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
