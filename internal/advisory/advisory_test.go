package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	goopenai "github.com/sashabaranov/go-openai"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = body
	return m.resp, m.err
}

func TestOpenAIGateway_Success(t *testing.T) {
	mock := &mockChatService{resp: &openai.ChatCompletion{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "  • Risks: none\n"}},
		},
	}}
	g := &OpenAIGateway{chat: mock, model: "gpt-4o-mini"}

	reply, err := g.Assess(context.Background(), "42", "profile prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Narrative != "• Risks: none" {
		t.Errorf("expected trimmed narrative, got %q", reply.Narrative)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
}

func TestOpenAIGateway_ServiceError(t *testing.T) {
	g := &OpenAIGateway{chat: &mockChatService{err: errors.New("service failure")}, model: "m"}
	_, err := g.Assess(context.Background(), "42", "p")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestOpenAIGateway_NoChoices(t *testing.T) {
	g := &OpenAIGateway{chat: &mockChatService{resp: &openai.ChatCompletion{}}, model: "m"}
	_, err := g.Assess(context.Background(), "42", "p")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestOpenAIGateway_EmptyContent(t *testing.T) {
	g := &OpenAIGateway{chat: &mockChatService{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "   "}}},
	}}, model: "m"}
	_, err := g.Assess(context.Background(), "42", "p")
	if !errors.Is(err, ErrEmptyNarrative) {
		t.Errorf("expected ErrEmptyNarrative, got %v", err)
	}
}

func TestNewOpenAIGateway(t *testing.T) {
	if _, err := NewOpenAIGateway(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
	g, err := NewOpenAIGateway(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if g.model != string(openai.ChatModelGPT4oMini) {
		t.Errorf("expected default model, got %s", g.model)
	}
}

type mockCompleter struct {
	resp goopenai.ChatCompletionResponse
	err  error
	req  goopenai.ChatCompletionRequest
}

func (m *mockCompleter) CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	m.req = req
	return m.resp, m.err
}

func TestCompatibleGateway(t *testing.T) {
	mock := &mockCompleter{resp: goopenai.ChatCompletionResponse{
		Choices: []goopenai.ChatCompletionChoice{{Message: goopenai.ChatCompletionMessage{Content: "triage"}}},
	}}
	g := &CompatibleGateway{client: mock, model: DefaultCompatibleModel}

	reply, err := g.Assess(context.Background(), "7", "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Narrative != "triage" {
		t.Errorf("unexpected narrative %q", reply.Narrative)
	}
	if mock.req.User != "7" || mock.req.Model != DefaultCompatibleModel {
		t.Errorf("unexpected request: %+v", mock.req)
	}

	g.client = &mockCompleter{}
	if _, err := g.Assess(context.Background(), "7", "prompt"); !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestNewCompatibleGateway_RequiresBaseURL(t *testing.T) {
	if _, err := NewCompatibleGateway(WithAPIKey("k")); !errors.Is(err, ErrMissingBaseURL) {
		t.Errorf("expected ErrMissingBaseURL, got %v", err)
	}
	if _, err := NewCompatibleGateway(WithAPIKey("k"), WithBaseURL("https://api.deepseek.com/v1")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLyzrGateway(t *testing.T) {
	var got lyzrRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"• Risks: flu","module_outputs":{}}`))
	}))
	defer srv.Close()

	g, err := NewLyzrGateway(WithAPIKey("secret"), WithAgentID("agent-1"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewLyzrGateway failed: %v", err)
	}
	reply, err := g.Assess(context.Background(), "99", "hello")
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if reply.Narrative != "• Risks: flu" {
		t.Errorf("unexpected narrative %q", reply.Narrative)
	}
	if len(reply.Raw) == 0 {
		t.Error("expected raw payload to be kept")
	}
	want := lyzrRequest{UserID: "99", AgentID: "agent-1", SessionID: "99", Message: "hello"}
	if got != want {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestLyzrGateway_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`, nil},
		{"missing response", http.StatusOK, `{"module_outputs":{}}`, ErrEmptyNarrative},
		{"blank response", http.StatusOK, `{"response":"  "}`, ErrEmptyNarrative},
		{"bad json", http.StatusOK, `not json`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, _ := NewLyzrGateway(WithAPIKey("k"), WithAgentID("a"), WithBaseURL(srv.URL))
			_, err := g.Assess(context.Background(), "1", "p")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLyzrGateway_EmptyNarrativeKeepsPayload(t *testing.T) {
	body := `{"response":"   ","module_outputs":{"reason":"filtered"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	g, _ := NewLyzrGateway(WithAPIKey("k"), WithAgentID("a"), WithBaseURL(srv.URL))
	reply, err := g.Assess(context.Background(), "1", "p")
	if !errors.Is(err, ErrEmptyNarrative) {
		t.Fatalf("expected ErrEmptyNarrative, got %v", err)
	}
	if reply == nil || string(reply.Raw) != body {
		t.Errorf("expected the raw payload with the error, got %+v", reply)
	}
	if reply != nil && reply.Narrative != "" {
		t.Errorf("failed reply should carry no narrative, got %q", reply.Narrative)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("bogus", WithAPIKey("k")); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
	if _, err := New(ProviderLyzr, WithAPIKey("k")); !errors.Is(err, ErrMissingAgentID) {
		t.Errorf("expected ErrMissingAgentID, got %v", err)
	}
	g, err := New("OpenAI", WithAPIKey("k"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := g.(*OpenAIGateway); !ok {
		t.Errorf("expected *OpenAIGateway, got %T", g)
	}
}
