package generator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// OpenAIProvider generates scripts through the OpenAI chat completions API,
// or any compatible endpoint via a custom base URL.
type OpenAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// OpenAIOption configures the provider.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	baseURL     string
	httpClient  *http.Client
	temperature float64
	maxTokens   int
}

// WithOpenAIBaseURL points the provider at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(s *openAISettings) { s.baseURL = baseURL }
}

// WithOpenAIHTTPClient overrides the transport.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(s *openAISettings) { s.httpClient = c }
}

// WithOpenAIGenerationParams overrides the default sampling parameters.
func WithOpenAIGenerationParams(temperature float64, maxTokens int) OpenAIOption {
	return func(s *openAISettings) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// NewOpenAIProvider builds a provider for the given model.
func NewOpenAIProvider(apiKey, model string, logger *zap.Logger, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	settings := openAISettings{temperature: genTemperature, maxTokens: genMaxTokens}
	for _, opt := range opts {
		opt(&settings)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if settings.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(settings.baseURL))
	}
	if settings.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(settings.httpClient))
	}

	return &OpenAIProvider{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: settings.temperature,
		maxTokens:   settings.maxTokens,
		logger:      logger.Named("openai_provider"),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai/" + p.model }

// GenerateScript sends one chat completion request and returns the raw reply.
func (p *OpenAIProvider) GenerateScript(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return "", err
	}

	p.logger.Debug("Requesting completion",
		zap.String("model", p.model),
		zap.String("category", string(req.Category)),
	)

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(int64(p.maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion for %s: %w", req.Category, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices for %s", req.Category)
	}
	return completion.Choices[0].Message.Content, nil
}
