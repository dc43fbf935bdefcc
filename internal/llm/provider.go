package llm

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the minimal interface the pipeline needs to call a chat model.
// It mirrors the single CreateChatCompletion method so any OpenAI-compatible
// backend, local or hosted, can be adapted.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelLister is an optional capability for listing available models.
// Providers that cannot list models simply omit it; callers detect support
// with a type assertion.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIProvider adapts *openai.Client to the Client and ModelLister
// interfaces.
type OpenAIProvider struct {
	Inner *openai.Client
}

// NewOpenAIProvider builds a provider for an OpenAI-compatible endpoint.
// baseURL may be empty for the default public endpoint; a trailing slash is
// tolerated.
func NewOpenAIProvider(baseURL, apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{Inner: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

func (p *OpenAIProvider) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return p.Inner.ListModels(ctx)
}
