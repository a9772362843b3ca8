package advisory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIGateway queries the OpenAI chat completion API.
type OpenAIGateway struct {
	chat  chatService
	model string
}

// NewOpenAIGateway creates a gateway. WithAPIKey is required.
func NewOpenAIGateway(opts ...Option) (*OpenAIGateway, error) {
	o := applyOptions(opts)
	if o.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := o.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(o.APIKey)}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.BaseURL))
	}
	cli := openai.NewClient(clientOpts...)
	slog.Debug("OpenAIGateway created", "model", model)
	return &OpenAIGateway{chat: &cli.Chat.Completions, model: model}, nil
}

// Assess implements Gateway.
func (g *OpenAIGateway) Assess(ctx context.Context, conversationID, prompt string) (*Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		User: openai.String(conversationID),
	}

	slog.Debug("OpenAIGateway Assess", "conversationID", conversationID, "model", g.model, "promptLength", len(prompt))
	resp, err := g.chat.New(ctx, params)
	if err != nil {
		slog.Error("OpenAIGateway Assess failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}

	narrative, err := narrativeOrError(resp.Choices[0].Message.Content)
	if err != nil {
		return failedReply([]byte(resp.RawJSON()), err)
	}
	return &Reply{Narrative: narrative, Model: resp.Model}, nil
}
