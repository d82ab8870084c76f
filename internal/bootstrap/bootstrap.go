// Package bootstrap builds the backends and the analysis pipeline selected
// by configuration. Both services share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/labelscan/internal/broker"
	"github.com/cuongbtq/labelscan/internal/cache"
	"github.com/cuongbtq/labelscan/internal/config"
	"github.com/cuongbtq/labelscan/internal/pipeline"
	"github.com/cuongbtq/labelscan/internal/pipeline/gemini"
	"github.com/cuongbtq/labelscan/internal/pipeline/openrouter"
	"github.com/cuongbtq/labelscan/internal/pipeline/yandex"
	"github.com/cuongbtq/labelscan/internal/status"
	"github.com/cuongbtq/labelscan/internal/submission"
	"github.com/cuongbtq/labelscan/internal/worker"
	"github.com/cuongbtq/labelscan/shared/postgresql"
	"github.com/cuongbtq/labelscan/shared/rabbitmq"
	"github.com/cuongbtq/labelscan/shared/redis"
)

// Services holds the backends selected by configuration
type Services struct {
	Cache    cache.Cache
	Tracker  status.Tracker
	Broker   broker.Broker
	Inflight cache.Inflight

	// Checks pings every external service in use, keyed by name
	Checks map[string]func(ctx context.Context) error

	closers []func() error
}

// Open connects to every backend the configuration names. consumerTag
// identifies this process to RabbitMQ.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, consumerTag string) (*Services, error) {
	s := &Services{Checks: make(map[string]func(ctx context.Context) error)}

	var (
		db  *postgresql.Client
		rdb *redis.Client
		mq  *rabbitmq.Client
		err error
	)

	if cfg.UsesBackend(config.BackendPostgres) {
		db, err = initPostgreSQL(&cfg.Database, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.Checks["postgres"] = db.HealthCheck

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
	}

	if cfg.UsesBackend(config.BackendRedis) || (cfg.Submission.DedupeInflight && cfg.Redis.Host != "") {
		rdb, err = initRedis(&cfg.Redis, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		s.closers = append(s.closers, rdb.Close)
		s.Checks["redis"] = rdb.HealthCheck
	}

	if cfg.Broker.Backend == config.BackendRabbitMQ {
		mq, err = initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		s.closers = append(s.closers, mq.Close)
		s.Checks["rabbitmq"] = func(ctx context.Context) error {
			if !mq.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}
	}

	switch cfg.Cache.Backend {
	case config.BackendRedis:
		s.Cache = cache.NewRedis(rdb, cfg.Cache.TTL)
	case config.BackendPostgres:
		s.Cache = cache.NewPostgres(db.GetDB())
	default:
		s.Cache = cache.NewMemory()
	}

	switch cfg.Status.Backend {
	case config.BackendRedis:
		s.Tracker = status.NewRedis(rdb, cfg.Status.TTL)
	case config.BackendPostgres:
		s.Tracker = status.NewPostgres(db.GetDB(), logger)
	default:
		s.Tracker = status.NewMemory()
	}

	switch cfg.Broker.Backend {
	case config.BackendRabbitMQ:
		s.Broker = broker.NewRabbitMQ(mq, consumerTag, logger)
	default:
		m := broker.NewMemory()
		s.closers = append(s.closers, m.Close)
		s.Broker = m
	}

	if cfg.Submission.DedupeInflight {
		if rdb != nil {
			s.Inflight = cache.NewRedisInflight(rdb)
		} else {
			s.Inflight = cache.NewMemoryInflight()
		}
	}

	logger.Info("Backends ready",
		slog.String("cache", cfg.Cache.Backend),
		slog.String("status", cfg.Status.Backend),
		slog.String("broker", cfg.Broker.Backend),
		slog.Bool("dedupe_inflight", cfg.Submission.DedupeInflight),
	)

	return s, nil
}

// Close releases every connection in reverse order of opening
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// SubmissionConfig maps the submission section onto the coordinator settings
func SubmissionConfig(cfg *config.SubmissionConfig) submission.Config {
	return submission.Config{
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		AllowedMIMETypes:  cfg.AllowedMIMETypes,
		DedupeInflight:    cfg.DedupeInflight,
		InflightTTL:       cfg.InflightTTL,
	}
}

// WorkerConfig wires the backends and runner into a worker configuration
func WorkerConfig(cfg *config.WorkerConfig, s *Services, runner pipeline.Runner, logger *slog.Logger) *worker.Config {
	return &worker.Config{
		Logger:      logger,
		Broker:      s.Broker,
		Cache:       s.Cache,
		Tracker:     s.Tracker,
		Runner:      runner,
		Inflight:    s.Inflight,
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Backoff: worker.Backoff{
			Strategy:   cfg.BackoffStrategy,
			Base:       cfg.RetryBackoff,
			Multiplier: cfg.BackoffMultiplier,
			Max:        cfg.MaxBackoff,
		},
		InfraRetryDelay: cfg.InfraRetryDelay,
		JobTimeout:      cfg.JobTimeout,
	}
}

// NewRunner builds the extraction and classification collaborators. The
// returned func releases provider clients.
func NewRunner(ctx context.Context, cfg *config.PipelineConfig, logger *slog.Logger) (*pipeline.Pipeline, func() error, error) {
	rules, err := pipeline.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, nil, err
	}

	prompt, err := pipeline.LoadPrompt(cfg.PromptTemplatePath)
	if err != nil {
		return nil, nil, err
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	httpc := &http.Client{}

	var extractor pipeline.Extractor
	switch cfg.Extractor.Provider {
	case "yandex":
		extractor = yandex.New(yandex.Config{
			Endpoint:  cfg.Extractor.Yandex.Endpoint,
			APIKey:    cfg.Extractor.Yandex.APIKey,
			FolderID:  cfg.Extractor.Yandex.FolderID,
			Model:     cfg.Extractor.Yandex.Model,
			Languages: cfg.Extractor.Yandex.Languages,
		}, httpc, logger)
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Extractor.Gemini.APIKey, cfg.Extractor.Gemini.Model)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		extractor = gemini.NewExtractor(client)
	default:
		return nil, nil, fmt.Errorf("unsupported extractor provider: %q", cfg.Extractor.Provider)
	}

	var classifier pipeline.Classifier
	switch cfg.Classifier.Provider {
	case "openrouter":
		classifier = openrouter.New(openrouter.Config{
			BaseURL: cfg.Classifier.OpenRouter.BaseURL,
			APIKey:  cfg.Classifier.OpenRouter.APIKey,
			Model:   cfg.Classifier.OpenRouter.Model,
		}, prompt, httpc, logger)
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Classifier.Gemini.APIKey, cfg.Classifier.Gemini.Model)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		classifier = gemini.NewClassifier(client, prompt)
	default:
		_ = closeAll()
		return nil, nil, fmt.Errorf("unsupported classifier provider: %q", cfg.Classifier.Provider)
	}

	logger.Info("Analysis pipeline ready",
		slog.String("extractor", cfg.Extractor.Provider),
		slog.String("classifier", cfg.Classifier.Provider),
		slog.Duration("extract_timeout", cfg.Extractor.Timeout),
		slog.Duration("classify_timeout", cfg.Classifier.Timeout),
	)

	p := pipeline.New(extractor, classifier, rules, pipeline.Config{
		ExtractTimeout:  cfg.Extractor.Timeout,
		ClassifyTimeout: cfg.Classifier.Timeout,
	}, logger)
	return p, closeAll, nil
}
