// Package testutil provides common test doubles and helpers for SwasthPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SwasthPipe/internal/advisory"
	"github.com/BTreeMap/SwasthPipe/internal/dataset"
	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// ErrScriptExhausted is returned by ScriptedGateway once it runs out of replies.
var ErrScriptExhausted = errors.New("scripted gateway has no more replies")

// SentMessage is one message captured by RecordingSender.
type SentMessage struct {
	ConversationID string
	Message        models.Outbound
}

// RecordingSender records every outbound message. It is safe for concurrent use.
type RecordingSender struct {
	mu      sync.Mutex
	sent    []SentMessage
	typing  []string
	SendErr error
}

// Send implements the engine's sender.
func (r *RecordingSender) Send(ctx context.Context, conversationID string, msg models.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentMessage{ConversationID: conversationID, Message: msg})
	return r.SendErr
}

// SendTyping records a typing indicator.
func (r *RecordingSender) SendTyping(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, conversationID)
	return nil
}

// Messages returns the messages sent to a conversation, in order.
func (r *RecordingSender) Messages(conversationID string) []models.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Outbound
	for _, s := range r.sent {
		if s.ConversationID == conversationID {
			out = append(out, s.Message)
		}
	}
	return out
}

// Texts returns just the texts sent to a conversation.
func (r *RecordingSender) Texts(conversationID string) []string {
	var out []string
	for _, m := range r.Messages(conversationID) {
		out = append(out, m.Text)
	}
	return out
}

// Last returns the most recent message sent to a conversation.
func (r *RecordingSender) Last(conversationID string) (models.Outbound, bool) {
	msgs := r.Messages(conversationID)
	if len(msgs) == 0 {
		return models.Outbound{}, false
	}
	return msgs[len(msgs)-1], true
}

// TypingCount returns how many typing indicators were sent.
func (r *RecordingSender) TypingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.typing)
}

// Reset clears everything recorded so far.
func (r *RecordingSender) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.typing = nil
}

// ScriptedResult is one canned gateway outcome. A non-zero Delay holds the
// reply back until it elapses or the call's context ends. Raw is returned
// alongside Err the way providers hand back an unusable payload.
type ScriptedResult struct {
	Narrative string
	Err       error
	Raw       json.RawMessage
	Delay     time.Duration
}

// ScriptedGateway returns canned results in order and records the prompts it saw.
type ScriptedGateway struct {
	mu      sync.Mutex
	Results []ScriptedResult
	Prompts []string
}

// Assess implements advisory.Gateway.
func (g *ScriptedGateway) Assess(ctx context.Context, conversationID, prompt string) (*advisory.Reply, error) {
	g.mu.Lock()
	g.Prompts = append(g.Prompts, prompt)
	if len(g.Results) == 0 {
		g.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	next := g.Results[0]
	g.Results = g.Results[1:]
	g.mu.Unlock()

	if next.Delay > 0 {
		timer := time.NewTimer(next.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if next.Err != nil {
		if len(next.Raw) > 0 {
			return &advisory.Reply{Raw: next.Raw}, next.Err
		}
		return nil, next.Err
	}
	return &advisory.Reply{Narrative: next.Narrative, Raw: next.Raw}, nil
}

// Calls returns how many times Assess was invoked.
func (g *ScriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Prompts)
}

// StaticFinder returns fixed facilities or an error.
type StaticFinder struct {
	Facilities []models.Facility
	Err        error
}

// FindNearby implements facility.Finder.
func (f StaticFinder) FindNearby(ctx context.Context, lat, lng float64) ([]models.Facility, error) {
	return f.Facilities, f.Err
}

// StaticSearcher answers dataset searches from a map keyed by "source:term".
// Unknown keys yield dataset.NoInfo.
type StaticSearcher map[string]string

// Search implements the dataset oracle.
func (s StaticSearcher) Search(source dataset.Source, query string) string {
	if v, ok := s[string(source)+":"+strings.ToLower(query)]; ok {
		return v
	}
	return dataset.NoInfo
}

// MemoryTranscripts collects transcripts in memory.
type MemoryTranscripts struct {
	mu          sync.Mutex
	Transcripts []models.Transcript
	Err         error
}

// SaveTranscript implements the transcript sink.
func (m *MemoryTranscripts) SaveTranscript(ctx context.Context, t models.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Transcripts = append(m.Transcripts, t)
	return nil
}

// Len returns the number of stored transcripts.
func (m *MemoryTranscripts) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Transcripts)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
