package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/SwasthPipe/internal/models"
	"github.com/BTreeMap/SwasthPipe/internal/whatsapp"
)

// eventListener is implemented by clients that can receive messages.
type eventListener interface {
	Listen(ctx context.Context, handle func(models.Event)) error
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client  whatsapp.WhatsAppSender
	choices *textChoices
	stream  *eventStream
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	return &WhatsAppService{
		client:  client,
		choices: newTextChoices(),
		stream:  newEventStream("WhatsAppService"),
	}
}

// Start registers the inbound message handler if the client supports one.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	listener, ok := s.client.(eventListener)
	if !ok {
		slog.Debug("WhatsAppService client cannot listen, skipping event handling (likely mock)")
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := listener.Listen(ctx, func(evt models.Event) {
			s.stream.emit(s.choices.resolve(evt))
		})
		if err != nil {
			slog.Error("WhatsAppService listener stopped with error", "error", err)
		}
	}()
	slog.Info("WhatsAppService started")
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.stream.close()
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// Send renders msg as plain text and sends it.
func (s *WhatsAppService) Send(ctx context.Context, conversationID string, msg models.Outbound) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	body := s.choices.render(conversationID, msg)
	slog.Debug("WhatsAppService Send invoked", "to", conversationID, "body_length", len(body))
	return s.client.SendMessage(ctx, conversationID, body)
}

// Events returns inbound events.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.stream.events
}
