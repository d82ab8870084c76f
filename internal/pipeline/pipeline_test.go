package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type extractorFunc func(ctx context.Context, image []byte) (string, error)

func (f extractorFunc) Extract(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

type classifierFunc func(ctx context.Context, text, rules string) (string, error)

func (f classifierFunc) Classify(ctx context.Context, text, rules string) (string, error) {
	return f(ctx, text, rules)
}

func TestPipeline_Run(t *testing.T) {
	var gotText, gotRules string
	p := New(
		extractorFunc(func(ctx context.Context, image []byte) (string, error) {
			return "Proteins 6.2 g", nil
		}),
		classifierFunc(func(ctx context.Context, text, rules string) (string, error) {
			gotText, gotRules = text, rules
			return "Sure!\n```json\n" + validReply + "\n```", nil
		}),
		`{"requirements":[]}`,
		Config{},
		slog.Default(),
	)

	result, err := p.Run(context.Background(), []byte("image"))
	require.NoError(t, err)
	assert.JSONEq(t, validReply, string(result))
	assert.Equal(t, "Proteins 6.2 g", gotText)
	assert.Equal(t, `{"requirements":[]}`, gotRules)
}

func TestPipeline_FailuresAreTransient(t *testing.T) {
	ok := extractorFunc(func(ctx context.Context, image []byte) (string, error) { return "text", nil })
	reply := func(s string) Classifier {
		return classifierFunc(func(ctx context.Context, text, rules string) (string, error) { return s, nil })
	}

	tests := []struct {
		name       string
		extractor  Extractor
		classifier Classifier
		stage      string
	}{
		{
			name: "extraction error",
			extractor: extractorFunc(func(ctx context.Context, image []byte) (string, error) {
				return "", errors.New("ocr 503")
			}),
			classifier: reply(validReply),
			stage:      StageExtraction,
		},
		{
			name:      "classification error",
			extractor: ok,
			classifier: classifierFunc(func(ctx context.Context, text, rules string) (string, error) {
				return "", errors.New("connection reset")
			}),
			stage: StageClassification,
		},
		{
			name:       "malformed reply",
			extractor:  ok,
			classifier: reply("I am not sure what this product is."),
			stage:      StageParsing,
		},
		{
			name:       "schema violation",
			extractor:  ok,
			classifier: reply(`{"verdict":true}`),
			stage:      StageParsing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.extractor, tt.classifier, "", Config{}, slog.Default())

			result, err := p.Run(context.Background(), []byte("image"))
			require.Error(t, err)
			assert.Nil(t, result)

			var te *domain.TransientError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.stage, te.Stage)
		})
	}
}

func TestPipeline_StageTimeout(t *testing.T) {
	p := New(
		extractorFunc(func(ctx context.Context, image []byte) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		classifierFunc(func(ctx context.Context, text, rules string) (string, error) {
			t.Fatal("classifier must not run after extraction timed out")
			return "", nil
		}),
		"",
		Config{ExtractTimeout: 10 * time.Millisecond},
		slog.Default(),
	)

	start := time.Now()
	_, err := p.Run(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, domain.IsTransient(err))
	assert.Less(t, time.Since(start), time.Second)
}
