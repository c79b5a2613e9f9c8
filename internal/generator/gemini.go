package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider generates scripts through the Gemini generateContent REST
// API.
type GeminiProvider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// GeminiOption configures the provider.
type GeminiOption func(*GeminiProvider)

// WithGeminiBaseURL overrides the API endpoint.
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(p *GeminiProvider) { p.baseURL = baseURL }
}

// WithGeminiHTTPClient overrides the transport.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(p *GeminiProvider) { p.httpClient = c }
}

// WithGeminiGenerationParams overrides the default sampling parameters.
func WithGeminiGenerationParams(temperature float64, maxTokens int) GeminiOption {
	return func(p *GeminiProvider) {
		p.temperature = temperature
		p.maxTokens = maxTokens
	}
}

// NewGeminiProvider builds a provider for the given model.
func NewGeminiProvider(apiKey, model string, logger *zap.Logger, opts ...GeminiOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	p := &GeminiProvider{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		apiKey:      apiKey,
		baseURL:     defaultGeminiBaseURL,
		model:       model,
		temperature: genTemperature,
		maxTokens:   genMaxTokens,
		logger:      logger.Named("gemini_provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *GeminiProvider) Name() string { return "gemini/" + p.model }

// Request/response shapes for generateContent, reduced to the fields we use.
type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateScript sends one generateContent request and returns the raw reply.
// Gemini has no separate system role at this API level, so the system prompt
// is prepended to the user prompt.
func (p *GeminiProvider) GenerateScript(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: systemPrompt + "\n\n" + userPrompt}},
		}},
		GenerationConfig: geminiGenConfig{
			Temperature:     p.temperature,
			MaxOutputTokens: p.maxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug("Requesting completion",
		zap.String("model", p.model),
		zap.String("category", string(req.Category)),
	)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request for %s: %w", req.Category, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading gemini response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding gemini response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("gemini API error %d: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return "", fmt.Errorf("gemini API returned status %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates for %s", req.Category)
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
