// Package openrouter classifies label text through an OpenAI-compatible
// chat completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/labelscan/internal/pipeline"
)

// DefaultBaseURL is the public OpenRouter API
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config holds API credentials and the model to call
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Classifier implements pipeline.Classifier
type Classifier struct {
	config Config
	prompt *pipeline.Prompt
	httpc  *http.Client
	logger *slog.Logger
}

// New creates a classifier. Request deadlines come from the caller's context.
func New(config Config, prompt *pipeline.Prompt, httpc *http.Client, logger *slog.Logger) *Classifier {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{config: config, prompt: prompt, httpc: httpc, logger: logger}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message *message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Classifier) Classify(ctx context.Context, text, rules string) (string, error) {
	content, err := c.prompt.Render(text, rules)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(chatRequest{
		Model:    c.config.Model,
		Messages: []message{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The body stays out of the error, which ends up in client-visible job status
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WarnContext(ctx, "Chat completion rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return "", fmt.Errorf("chat completion %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat completion: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("chat completion error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", errors.New("chat completion has no choices")
	}

	reply := out.Choices[0].Message.Content
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("chat completion is empty")
	}
	return reply, nil
}
