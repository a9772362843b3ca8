// Package telegram wraps the Telegram Bot API for SwasthPipe.
//
// It renders outbound messages as Telegram messages with inline or reply
// keyboards and turns incoming updates into channel events.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// DefaultUpdateTimeout is the long-polling timeout in seconds.
const DefaultUpdateTimeout = 60

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("telegram bot token not set")

// Sender sends messages and chat actions to Telegram chats.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, msg models.Outbound) error
	SendTyping(ctx context.Context, chatID int64) error
}

// Listener delivers inbound events until ctx is cancelled.
type Listener interface {
	Listen(ctx context.Context, handle func(models.Event)) error
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token  string
	Debug  bool
	APIURL string // endpoint format, e.g. tgbotapi.APIEndpoint
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithDebug enables request logging in the bot library.
func WithDebug(debug bool) Option {
	return func(o *Opts) { o.Debug = debug }
}

// WithAPIEndpoint overrides the Bot API endpoint format.
func WithAPIEndpoint(endpoint string) Option {
	return func(o *Opts) { o.APIURL = endpoint }
}

// Client wraps tgbotapi.BotAPI.
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient authenticates against the Bot API.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Telegram NewClient options set", "Token_set", cfg.Token != "", "Debug", cfg.Debug)
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	endpoint := cfg.APIURL
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		slog.Error("Failed to authenticate Telegram bot", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)
	return &Client{bot: bot}, nil
}

// SendMessage renders and sends an outbound message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, msg models.Outbound) error {
	if msg.Text == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	m := BuildMessage(chatID, msg)
	_, err := c.bot.Send(m)
	if err != nil && m.ParseMode != "" && isEntityParseError(err) {
		// Model-written text can carry unbalanced markup; resend it verbatim.
		slog.Warn("Telegram rejected message markup, resending as plain text", "chatID", chatID, "error", err)
		m.ParseMode = ""
		_, err = c.bot.Send(m)
	}
	if err != nil {
		slog.Error("Failed to send Telegram message", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	slog.Debug("Telegram message sent", "chatID", chatID, "body_length", len(msg.Text))
	return nil
}

// isEntityParseError reports whether the Bot API refused a message because
// its Markdown or HTML entities were malformed.
func isEntityParseError(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "can't parse entities")
}

// SendTyping shows the typing indicator in a chat.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("failed to send chat action to %d: %w", chatID, err)
	}
	return nil
}

// Listen long-polls for updates and hands each recognised one to handle.
// Button presses are acknowledged before they are handed on.
func (c *Client) Listen(ctx context.Context, handle func(models.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultUpdateTimeout
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	slog.Info("Telegram listening for updates")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Telegram Listen stopping due to context cancellation")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				if _, err := c.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
					slog.Warn("Telegram callback acknowledgement failed", "error", err)
				}
			}
			evt, ok := EventFromUpdate(update)
			if !ok {
				slog.Debug("Telegram ignoring update", "updateID", update.UpdateID)
				continue
			}
			handle(evt)
		}
	}
}

// BuildMessage renders an outbound message. Choices become a single row of
// inline buttons; a location request becomes a one-time reply keyboard.
func BuildMessage(chatID int64, msg models.Outbound) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.Markdown {
		m.ParseMode = tgbotapi.ModeMarkdown
		m.DisableWebPagePreview = true
	}

	switch {
	case msg.LocationRequest != nil:
		keyboard := tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonLocation(msg.LocationRequest.ShareLabel)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(msg.LocationRequest.DeclineLabel)),
		)
		keyboard.OneTimeKeyboard = true
		keyboard.ResizeKeyboard = true
		m.ReplyMarkup = keyboard
	case len(msg.Choices) > 0:
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(msg.Choices))
		for _, c := range msg.Choices {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Token))
		}
		m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons)
	}
	return m
}

// EventFromUpdate converts a Telegram update into a channel event.
func EventFromUpdate(u tgbotapi.Update) (models.Event, bool) {
	messageID := "tg:" + strconv.Itoa(u.UpdateID)

	if cq := u.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil || cq.Data == "" {
			return models.Event{}, false
		}
		return models.Event{
			ConversationID: strconv.FormatInt(cq.Message.Chat.ID, 10),
			MessageID:      messageID,
			Kind:           models.EventChoice,
			Choice:         cq.Data,
			Time:           time.Now(),
		}, true
	}

	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return models.Event{}, false
	}
	evt := models.Event{
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:      messageID,
		Time:           msg.Time(),
	}
	switch {
	case msg.Location != nil:
		evt.Kind = models.EventLocation
		evt.Location = &models.Location{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude}
	case msg.Text != "":
		evt.Kind = models.EventText
		evt.Text = msg.Text
	default:
		return models.Event{}, false
	}
	return evt, true
}

// MockClient records sent messages and lets tests inject inbound events.
type MockClient struct {
	mu       sync.Mutex
	Sent     []SentMessage
	Typing   []int64
	inbound  chan models.Event
	SendErr  error
	initOnce sync.Once
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	ChatID  int64
	Message models.Outbound
}

// NewMockClient creates a mock client.
func NewMockClient() *MockClient {
	m := &MockClient{}
	m.init()
	return m
}

func (m *MockClient) init() {
	m.initOnce.Do(func() { m.inbound = make(chan models.Event, 16) })
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, chatID int64, msg models.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChatID: chatID, Message: msg})
	return m.SendErr
}

// SendTyping records the chat action.
func (m *MockClient) SendTyping(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing = append(m.Typing, chatID)
	return nil
}

// Inject queues an inbound event for Listen.
func (m *MockClient) Inject(evt models.Event) {
	m.init()
	m.inbound <- evt
}

// Listen delivers injected events until ctx is cancelled.
func (m *MockClient) Listen(ctx context.Context, handle func(models.Event)) error {
	m.init()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-m.inbound:
			handle(evt)
		}
	}
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
