// Package pipeline turns a label photo into a validated nutrition verdict:
// text extraction, LLM classification, then structured payload parsing.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// Stage names used in TransientError
const (
	StageExtraction     = "extraction"
	StageClassification = "classification"
	StageParsing        = "parsing"
)

// Extractor recognizes the text printed on an image
type Extractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// Classifier asks a language model to judge text against a set of rules
// and returns its raw reply
type Classifier interface {
	Classify(ctx context.Context, text, rules string) (string, error)
}

// Runner is what the worker executes per job
type Runner interface {
	Run(ctx context.Context, image []byte) (json.RawMessage, error)
}

// Config holds per-stage limits
type Config struct {
	ExtractTimeout  time.Duration
	ClassifyTimeout time.Duration
}

// Pipeline chains an Extractor, a Classifier and the verdict parser
type Pipeline struct {
	extractor  Extractor
	classifier Classifier
	rules      string
	config     Config
	logger     *slog.Logger
}

// New creates a pipeline. rules is passed verbatim to the classifier.
func New(extractor Extractor, classifier Classifier, rules string, config Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		classifier: classifier,
		rules:      rules,
		config:     config,
		logger:     logger,
	}
}

// Run executes every stage and returns the compact JSON verdict.
// Every failure is a *domain.TransientError naming the stage.
func (p *Pipeline) Run(ctx context.Context, image []byte) (json.RawMessage, error) {
	text, err := p.extract(ctx, image)
	if err != nil {
		return nil, domain.NewTransientError(StageExtraction, err)
	}

	reply, err := p.classify(ctx, text)
	if err != nil {
		return nil, domain.NewTransientError(StageClassification, err)
	}

	result, _, err := ParseVerdict(reply)
	if err != nil {
		p.logger.WarnContext(ctx, "Classifier reply rejected",
			slog.String("error", err.Error()),
			slog.Int("reply_length", len(reply)),
		)
		return nil, domain.NewTransientError(StageParsing, err)
	}

	return result, nil
}

func (p *Pipeline) extract(ctx context.Context, image []byte) (string, error) {
	if p.config.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ExtractTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.extractor.Extract(ctx, image)
	p.logger.DebugContext(ctx, "Extraction finished",
		slog.Duration("took", time.Since(start)),
		slog.Int("text_length", len(text)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	return text, nil
}

func (p *Pipeline) classify(ctx context.Context, text string) (string, error) {
	if p.config.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ClassifyTimeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := p.classifier.Classify(ctx, text, p.rules)
	p.logger.DebugContext(ctx, "Classification finished",
		slog.Duration("took", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return "", fmt.Errorf("failed to classify text: %w", err)
	}
	return reply, nil
}
