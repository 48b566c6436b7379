package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/config"
)

// llmClient talks to an OpenAI-compatible chat-completions endpoint.
// Grounded on original_source/llm_api.py's LLMClient: Bearer auth, a single
// user-role message, exponential backoff on timeout/429, max_retries bound.
type llmClient struct {
	cfg    config.LLMConfig
	http   *http.Client
	logger *logrus.Logger
}

func newLLMClient(cfg config.LLMConfig, logger *logrus.Logger) *llmClient {
	return &llmClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete sends prompt as the sole user message and returns the first
// choice's content, retrying on timeouts and HTTP 429 with 2^attempt second
// backoff, matching call_llm_async's retry shape.
func (c *llmClient) complete(ctx context.Context, prompt string, maxRetries int) (string, error) {
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		content, retryable, err := c.attempt(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable || attempt == maxRetries {
			break
		}
		c.logger.WithError(err).WithField("attempt", attempt+1).Warn("llm request failed, retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(1<<uint(attempt)) * time.Second):
		}
	}
	return "", fmt.Errorf("llm request failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *llmClient) attempt(ctx context.Context, body []byte) (content string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("rate limited: %s", string(respBody))
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("llm server error %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("llm request rejected (%d): %s", resp.StatusCode, string(respBody))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("llm response had no choices")
	}
	return parsed.Choices[0].Message.Content, false, nil
}
