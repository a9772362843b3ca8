package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/SwasthPipe/internal/models"
	"github.com/BTreeMap/SwasthPipe/internal/twiliowhatsapp"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks webhook signatures.
type SignatureValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

// TwilioService implements the Service interface using Twilio API. Inbound
// messages arrive through WebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	validator SignatureValidator
	publicURL string
	choices   *textChoices
	stream    *eventStream
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose signature does not
// match. publicURL is the webhook URL as Twilio calls it; when empty the
// URL is rebuilt from the request.
func WithSignatureValidation(v SignatureValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:  client,
		choices: newTextChoices(),
		stream:  newEventStream("TwilioService"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op; inbound messages are pushed by webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.stream.close()
	return nil
}

// Send renders msg as plain text and sends it via Twilio.
func (s *TwilioService) Send(ctx context.Context, conversationID string, msg models.Outbound) error {
	if s.stream.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, conversationID, s.choices.render(conversationID, msg))
}

// Events returns inbound events.
func (s *TwilioService) Events() <-chan models.Event {
	return s.stream.events
}

// WebhookHandler handles inbound Twilio webhook requests and emits them as events.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.webhookURL(r), params, r.Header.Get(SignatureHeader)) {
			slog.Warn("Twilio webhook signature mismatch", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	evt, err := eventFromForm(r)
	if err != nil {
		slog.Warn("Twilio webhook rejected", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", evt.ConversationID, "kind", evt.Kind)
	s.stream.emit(s.choices.resolve(evt))

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

func (s *TwilioService) webhookURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func eventFromForm(r *http.Request) (models.Event, error) {
	from := twiliowhatsapp.ConversationID(r.FormValue("From"))
	if from == "" {
		return models.Event{}, fmt.Errorf("missing From")
	}
	evt := models.Event{ConversationID: from, Time: time.Now()}
	if sid := r.FormValue("MessageSid"); sid != "" {
		evt.MessageID = "tw:" + sid
	}

	lat, lng := r.FormValue("Latitude"), r.FormValue("Longitude")
	if lat != "" && lng != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return models.Event{}, fmt.Errorf("invalid coordinates %q,%q", lat, lng)
		}
		evt.Kind = models.EventLocation
		evt.Location = &models.Location{Latitude: la, Longitude: lo}
		return evt, nil
	}

	body := r.FormValue("Body")
	if strings.TrimSpace(body) == "" {
		return models.Event{}, fmt.Errorf("missing Body")
	}
	evt.Kind = models.EventText
	evt.Text = body
	return evt, nil
}
