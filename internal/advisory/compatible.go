package advisory

import (
	"context"
	"fmt"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultCompatibleModel is used when no model is configured.
const DefaultCompatibleModel = "deepseek-chat"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// CompatibleGateway queries any OpenAI-compatible chat endpoint, such as DeepSeek.
type CompatibleGateway struct {
	client chatCompleter
	model  string
}

// NewCompatibleGateway creates a gateway. WithAPIKey and WithBaseURL are required.
func NewCompatibleGateway(opts ...Option) (*CompatibleGateway, error) {
	o := applyOptions(opts)
	if o.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if o.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	model := o.Model
	if model == "" {
		model = DefaultCompatibleModel
	}

	cfg := goopenai.DefaultConfig(o.APIKey)
	cfg.BaseURL = o.BaseURL
	if o.HTTPClient != nil {
		cfg.HTTPClient = o.HTTPClient
	}
	slog.Debug("CompatibleGateway created", "baseURL", o.BaseURL, "model", model)
	return &CompatibleGateway{client: goopenai.NewClientWithConfig(cfg), model: model}, nil
}

// Assess implements Gateway.
func (g *CompatibleGateway) Assess(ctx context.Context, conversationID, prompt string) (*Reply, error) {
	slog.Debug("CompatibleGateway Assess", "conversationID", conversationID, "model", g.model, "promptLength", len(prompt))
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
		User:        conversationID,
	})
	if err != nil {
		slog.Error("CompatibleGateway Assess failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}

	narrative, err := narrativeOrError(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return &Reply{Narrative: narrative, Model: resp.Model}, nil
}
