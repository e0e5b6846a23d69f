package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

const openAIBaseURL = "https://api.openai.com/v1/chat/completions"

// openAIClient calls the OpenAI chat completions API.
type openAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func newOpenAIClient(apiKey, model string, timeout time.Duration) *openAIClient {
	return &openAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: openAIBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *openAIClient) Name() string  { return ProviderOpenAI }
func (c *openAIClient) Model() string { return c.model }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Chat sends one user message and returns the model's text content.
func (c *openAIClient) Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	payload, err := json.Marshal(openAIRequest{
		Model:       c.model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if err := statusToError(resp.StatusCode, body); err != nil {
		return "", err
	}

	var result openAIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai response contained no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// statusToError maps an HTTP status to the shared error taxonomy.
func statusToError(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return &apiError{status: status, body: string(body)}
	}
}
