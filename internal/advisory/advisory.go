// Package advisory talks to the external inference services that turn a
// screening profile into a risk narrative or a triage recommendation.
package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Provider names a supported advisory backend.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderCompatible Provider = "compatible"
	ProviderLyzr       Provider = "lyzr"
)

// Error variables returned by gateways.
var (
	ErrMissingAPIKey     = errors.New("advisory API key not set")
	ErrMissingAgentID    = errors.New("advisory agent id not set")
	ErrMissingBaseURL    = errors.New("advisory base URL not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyNarrative    = errors.New("advisory service returned an empty narrative")
	ErrUnknownProvider   = errors.New("unknown advisory provider")
)

// Reply is a successful answer from an advisory service.
type Reply struct {
	Narrative string
	Model     string
	Raw       json.RawMessage // provider payload, kept for diagnostics
}

// Gateway sends a prompt on behalf of a conversation and returns the narrative.
// A nil error always comes with a non-empty narrative. A failed call may still
// return a Reply carrying only Raw, the payload the provider sent back.
type Gateway interface {
	Assess(ctx context.Context, conversationID, prompt string) (*Reply, error)
}

// Opts holds configuration shared by the gateway constructors.
type Opts struct {
	APIKey     string
	Model      string
	BaseURL    string
	AgentID    string
	HTTPClient *http.Client
}

// Option configures a gateway.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL sets the endpoint for OpenAI-compatible or Lyzr services.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAgentID sets the Lyzr agent id.
func WithAgentID(id string) Option {
	return func(o *Opts) { o.AgentID = id }
}

// WithHTTPClient overrides the HTTP client used by the Lyzr gateway.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

func applyOptions(opts []Option) Opts {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the gateway for a provider.
func New(provider Provider, opts ...Option) (Gateway, error) {
	switch Provider(strings.ToLower(string(provider))) {
	case ProviderOpenAI, "":
		return NewOpenAIGateway(opts...)
	case ProviderCompatible:
		return NewCompatibleGateway(opts...)
	case ProviderLyzr:
		return NewLyzrGateway(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

// systemPrompt frames chat-completion providers; Lyzr agents carry their own.
const systemPrompt = "You are Dr.SwasthBot, a careful health-screening assistant. Answer in the requested format and keep it concise. You do not replace a doctor."

// failedReply pairs err with the provider payload when there is one.
func failedReply(raw []byte, err error) (*Reply, error) {
	if len(raw) == 0 {
		return nil, err
	}
	return &Reply{Raw: json.RawMessage(raw)}, err
}

func narrativeOrError(content string) (string, error) {
	narrative := strings.TrimSpace(content)
	if narrative == "" {
		return "", ErrEmptyNarrative
	}
	return narrative, nil
}
