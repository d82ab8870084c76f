// Package gemini runs extraction and classification on Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/labelscan/internal/pipeline"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const extractInstruction = `Transcribe all text printed on this food package verbatim.
Keep the original language, numbers and units. Include the nutrition table and the ingredient list.
Output plain text only.`

// Client is a Gemini API client bound to one model
type Client struct {
	cl    *genai.Client
	model string
}

// NewClient creates a client authenticated with an API key
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("gemini model is empty")
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{cl: cl, model: model}, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.cl.Close()
}

// Extractor implements pipeline.Extractor with a vision model
type Extractor struct {
	client *Client
}

// NewExtractor creates a Gemini backed extractor
func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Extract(ctx context.Context, image []byte) (string, error) {
	data, mime, err := pipeline.NormalizeImage(image)
	if err != nil {
		return "", err
	}

	m := e.client.cl.GenerativeModel(e.client.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}

	resp, err := m.GenerateContent(ctx,
		genai.Text(extractInstruction),
		&genai.Blob{MIMEType: mime, Data: data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini extract: %w", err)
	}
	return strings.TrimSpace(firstText(resp)), nil
}

// Classifier implements pipeline.Classifier with JSON-mode generation
type Classifier struct {
	client *Client
	prompt *pipeline.Prompt
}

// NewClassifier creates a Gemini backed classifier
func NewClassifier(client *Client, prompt *pipeline.Prompt) *Classifier {
	return &Classifier{client: client, prompt: prompt}
}

func (c *Classifier) Classify(ctx context.Context, text, rules string) (string, error) {
	content, err := c.prompt.Render(text, rules)
	if err != nil {
		return "", err
	}

	m := c.client.cl.GenerativeModel(c.client.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}

	resp, err := m.GenerateContent(ctx, genai.Text(content))
	if err != nil {
		return "", fmt.Errorf("gemini classify: %w", err)
	}

	txt := firstText(resp)
	if txt == "" {
		return "", errors.New("gemini classify: empty response")
	}
	return txt, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
