// Package yandex extracts label text with Yandex Vision OCR.
package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/labelscan/internal/pipeline"
)

// DefaultEndpoint is the recognizeText method of the OCR API
const DefaultEndpoint = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"

// Config holds OCR credentials and recognition options
type Config struct {
	Endpoint  string
	APIKey    string
	FolderID  string
	Model     string
	Languages []string
}

// Extractor implements pipeline.Extractor
type Extractor struct {
	config Config
	httpc  *http.Client
	logger *slog.Logger
}

// New creates an extractor. Request deadlines come from the caller's context.
func New(config Config, httpc *http.Client, logger *slog.Logger) *Extractor {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Model == "" {
		config.Model = "page"
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{config: config, httpc: httpc, logger: logger}
}

type request struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType,omitempty"`
	LanguageCodes []string `json:"languageCodes,omitempty"`
	Model         string   `json:"model,omitempty"`
}

type line struct {
	Text string `json:"text,omitempty"`
}

type block struct {
	Lines []line `json:"lines,omitempty"`
}

type textAnnotation struct {
	FullText string  `json:"fullText,omitempty"`
	Blocks   []block `json:"blocks,omitempty"`
}

type response struct {
	Result *struct {
		TextAnnotation *textAnnotation `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

func (e *Extractor) Extract(ctx context.Context, image []byte) (string, error) {
	data, mime, err := pipeline.NormalizeImage(image)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(request{
		Content:       base64.StdEncoding.EncodeToString(data),
		MimeType:      ocrMimeType(mime),
		LanguageCodes: e.config.Languages,
		Model:         e.config.Model,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+e.config.APIKey)
	req.Header.Set("x-folder-id", e.config.FolderID)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("yandex ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e.logger.WarnContext(ctx, "Yandex OCR rejected request",
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return "", fmt.Errorf("yandex ocr %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode yandex ocr response: %w", err)
	}
	return out.text(), nil
}

func (r *response) text() string {
	if r.Result == nil || r.Result.TextAnnotation == nil {
		return ""
	}
	ta := r.Result.TextAnnotation
	if t := strings.TrimSpace(ta.FullText); t != "" {
		return t
	}

	var lines []string
	for _, b := range ta.Blocks {
		for _, l := range b.Lines {
			if s := strings.TrimSpace(l.Text); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func ocrMimeType(mime string) string {
	if mime == "image/png" {
		return "PNG"
	}
	return "JPEG"
}
