package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/BTreeMap/SwasthPipe/internal/models"
	"github.com/BTreeMap/SwasthPipe/internal/telegram"
)

// TelegramClient is the part of the Telegram client the service needs.
type TelegramClient interface {
	telegram.Sender
	telegram.Listener
}

// TelegramService implements Service on the Telegram Bot API. Choices are
// sent as inline buttons, so no text mapping is needed.
type TelegramService struct {
	client TelegramClient
	stream *eventStream
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelegramService creates a new TelegramService wrapping client.
func NewTelegramService(client TelegramClient) *TelegramService {
	return &TelegramService{client: client, stream: newEventStream("TelegramService")}
}

// Start begins long polling in the background.
func (s *TelegramService) Start(ctx context.Context) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.client.Listen(ctx, s.stream.emit); err != nil {
			slog.Error("TelegramService listener stopped with error", "error", err)
		}
	}()
	slog.Info("TelegramService started")
	return nil
}

// Stop stops polling and closes the event channel.
func (s *TelegramService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.stream.close()
	slog.Info("TelegramService stopped")
	return nil
}

// Send delivers msg to the chat identified by conversationID.
func (s *TelegramService) Send(ctx context.Context, conversationID string, msg models.Outbound) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, chatID, msg)
}

// SendTyping shows the typing indicator.
func (s *TelegramService) SendTyping(ctx context.Context, conversationID string) error {
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return err
	}
	return s.client.SendTyping(ctx, chatID)
}

// Events returns inbound events.
func (s *TelegramService) Events() <-chan models.Event {
	return s.stream.events
}

func parseChatID(conversationID string) (int64, error) {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", conversationID, err)
	}
	return chatID, nil
}
