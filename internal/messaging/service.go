// Package messaging adapts the chat transports (Telegram, WhatsApp, Twilio)
// to one event-in, message-out interface and dispatches inbound events.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable chat transport.
type Service interface {
	// Send delivers a message to a conversation.
	Send(ctx context.Context, conversationID string, msg models.Outbound) error

	// Start begins background processing (e.g., polling for updates).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Events returns a channel of inbound user events.
	Events() <-chan models.Event
}

// eventStream is the inbound channel shared by every service, guarded so
// emits after Stop are dropped instead of panicking.
type eventStream struct {
	name    string
	mu      sync.RWMutex
	events  chan models.Event
	stopped bool
}

func newEventStream(name string) *eventStream {
	return &eventStream{name: name, events: make(chan models.Event, DefaultChannelBufferSize)}
}

// emit pushes an event, dropping it if the buffer stays full past DefaultChannelTimeout.
func (s *eventStream) emit(evt models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn(s.name+" dropping inbound event (service stopped)", "conversationID", evt.ConversationID)
		return
	}

	select {
	case s.events <- evt:
		slog.Debug(s.name+" emitted inbound event", "conversationID", evt.ConversationID, "kind", evt.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(s.name+" events channel blocked, dropping event", "conversationID", evt.ConversationID)
	}
}

// close marks the stream stopped and closes the channel once.
func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.events)
}

func (s *eventStream) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}
