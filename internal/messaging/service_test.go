package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SwasthPipe/internal/models"
	"github.com/BTreeMap/SwasthPipe/internal/telegram"
	"github.com/BTreeMap/SwasthPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SwasthPipe/internal/whatsapp"
)

var (
	_ Service = (*TelegramService)(nil)
	_ Service = (*WhatsAppService)(nil)
	_ Service = (*TwilioService)(nil)
)

func receive(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("events channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return models.Event{}
}

func TestTelegramService(t *testing.T) {
	client := telegram.NewMockClient()
	svc := NewTelegramService(client)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	client.Inject(models.Event{ConversationID: "7", Kind: models.EventText, Text: "/start"})
	if evt := receive(t, svc.Events()); evt.Text != "/start" {
		t.Errorf("unexpected event %+v", evt)
	}

	ctx := context.Background()
	if err := svc.Send(ctx, "7", models.Outbound{Text: "hi"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := svc.SendTyping(ctx, "7"); err != nil {
		t.Fatalf("SendTyping returned error: %v", err)
	}
	if msgs := client.Messages(); len(msgs) != 1 || msgs[0].ChatID != 7 {
		t.Errorf("unexpected messages %+v", msgs)
	}
	if err := svc.Send(ctx, "not-a-number", models.Outbound{Text: "hi"}); err == nil {
		t.Error("expected error for non-numeric chat id")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("expected events channel closed")
	}
	if err := svc.Send(ctx, "7", models.Outbound{Text: "late"}); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

type listeningWhatsApp struct {
	*whatsapp.MockClient
	inbound chan models.Event
}

func (l *listeningWhatsApp) Listen(ctx context.Context, handle func(models.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-l.inbound:
			handle(evt)
		}
	}
}

func TestWhatsAppService_NumberedChoices(t *testing.T) {
	client := &listeningWhatsApp{MockClient: whatsapp.NewMockClient(), inbound: make(chan models.Event, 1)}
	svc := NewWhatsAppService(client)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	err := svc.Send(context.Background(), "9198", models.Outbound{
		Text:    "🩺 Do you know your blood pressure?",
		Choices: []models.Choice{{Label: "Yes", Token: "bp_yes"}, {Label: "No", Token: "bp_no"}},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	sent := client.Messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Body, "1. Yes\n2. No") {
		t.Fatalf("choices not rendered: %+v", sent)
	}

	client.inbound <- models.Event{ConversationID: "9198", Kind: models.EventText, Text: "2"}
	evt := receive(t, svc.Events())
	if evt.Kind != models.EventChoice || evt.Choice != "bp_no" {
		t.Errorf("numbered reply not mapped: %+v", evt)
	}
}

func TestWhatsAppService_StartWithoutListener(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("expected events channel closed")
	}
}

type fixedValidator bool

func (v fixedValidator) Validate(string, map[string]string, string) bool { return bool(v) }

func postForm(h http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTwilioService_Webhook(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)
	defer svc.Stop()

	rec := postForm(svc.WebhookHandler, url.Values{
		"From": {"whatsapp:+919800000000"}, "Body": {"/start"}, "MessageSid": {"SM1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	evt := receive(t, svc.Events())
	if evt.ConversationID != "919800000000" || evt.Text != "/start" || evt.MessageID != "tw:SM1" {
		t.Errorf("unexpected event %+v", evt)
	}

	rec = postForm(svc.WebhookHandler, url.Values{
		"From": {"whatsapp:+919800000000"}, "Latitude": {"12.97"}, "Longitude": {"77.59"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if evt := receive(t, svc.Events()); evt.Kind != models.EventLocation || evt.Location.Longitude != 77.59 {
		t.Errorf("unexpected location event %+v", evt)
	}

	bad := []url.Values{
		{"Body": {"hi"}},
		{"From": {"whatsapp:+1"}},
		{"From": {"whatsapp:+1"}, "Latitude": {"north"}, "Longitude": {"1"}},
	}
	for _, form := range bad {
		if rec := postForm(svc.WebhookHandler, form); rec.Code != http.StatusBadRequest {
			t.Errorf("form %v: status = %d, want 400", form, rec.Code)
		}
	}

	if err := svc.Send(context.Background(), "919800000000", models.Outbound{Text: "hello"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if msgs := client.Messages(); len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestTwilioService_SignatureValidation(t *testing.T) {
	form := url.Values{"From": {"whatsapp:+1"}, "Body": {"hi"}}

	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation(fixedValidator(false), ""))
	if rec := postForm(svc.WebhookHandler, form); rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	svc = NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation(fixedValidator(true), "https://example.com/webhooks/twilio"))
	if rec := postForm(svc.WebhookHandler, form); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
