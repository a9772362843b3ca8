package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultLyzrURL is the Lyzr inference chat endpoint.
const DefaultLyzrURL = "https://agent-prod.studio.lyzr.ai/v3/inference/chat/"

type lyzrRequest struct {
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type lyzrResponse struct {
	Response *string `json:"response"`
}

// LyzrGateway queries a Lyzr agent over its inference HTTP API. The
// conversation id doubles as the Lyzr user and session id.
type LyzrGateway struct {
	client  *http.Client
	url     string
	apiKey  string
	agentID string
}

// NewLyzrGateway creates a gateway. WithAPIKey and WithAgentID are required.
func NewLyzrGateway(opts ...Option) (*LyzrGateway, error) {
	o := applyOptions(opts)
	if o.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if o.AgentID == "" {
		return nil, ErrMissingAgentID
	}
	url := o.BaseURL
	if url == "" {
		url = DefaultLyzrURL
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &LyzrGateway{client: client, url: url, apiKey: o.APIKey, agentID: o.AgentID}, nil
}

// Assess implements Gateway.
func (g *LyzrGateway) Assess(ctx context.Context, conversationID, prompt string) (*Reply, error) {
	body, err := json.Marshal(lyzrRequest{
		UserID:    conversationID,
		AgentID:   g.agentID,
		SessionID: conversationID,
		Message:   prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lyzr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build lyzr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)

	slog.Debug("LyzrGateway Assess", "conversationID", conversationID, "promptLength", len(prompt))
	resp, err := g.client.Do(req)
	if err != nil {
		slog.Error("LyzrGateway request failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("lyzr request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lyzr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("LyzrGateway non-200 response", "status", resp.StatusCode, "conversationID", conversationID, "body", string(raw))
		return nil, fmt.Errorf("lyzr returned status %d", resp.StatusCode)
	}

	var decoded lyzrResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode lyzr response: %w", err)
	}
	if decoded.Response == nil {
		return failedReply(raw, ErrEmptyNarrative)
	}
	narrative, err := narrativeOrError(*decoded.Response)
	if err != nil {
		return failedReply(raw, err)
	}
	return &Reply{Narrative: narrative, Raw: json.RawMessage(raw)}, nil
}
