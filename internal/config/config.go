package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Backend names shared by the cache, status and broker sections
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendRabbitMQ = "rabbitmq"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Cache      CacheConfig      `yaml:"cache"`
	Status     StatusConfig     `yaml:"status"`
	Broker     BrokerConfig     `yaml:"broker"`
	Worker     WorkerConfig     `yaml:"worker"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Submission SubmissionConfig `yaml:"submission"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	RetryName  string `yaml:"retry_name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count"`
	Tag           string `yaml:"tag"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// CacheConfig selects the result cache backend
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// StatusConfig selects the job status backend
type StatusConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// BrokerConfig selects the job broker backend
type BrokerConfig struct {
	Backend string `yaml:"backend"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	BackoffStrategy   string        `yaml:"backoff_strategy"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	InfraRetryDelay   time.Duration `yaml:"infra_retry_delay"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	Embedded          bool          `yaml:"embedded"`
}

// PipelineConfig holds OCR and classification settings
type PipelineConfig struct {
	Extractor          ExtractorConfig  `yaml:"extractor"`
	Classifier         ClassifierConfig `yaml:"classifier"`
	RulesPath          string           `yaml:"rules_path"`
	PromptTemplatePath string           `yaml:"prompt_template_path"`
}

// ExtractorConfig holds OCR provider settings
type ExtractorConfig struct {
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
	Yandex   YandexConfig  `yaml:"yandex"`
	Gemini   GeminiConfig  `yaml:"gemini"`
}

// ClassifierConfig holds LLM provider settings
type ClassifierConfig struct {
	Provider   string           `yaml:"provider"`
	Timeout    time.Duration    `yaml:"timeout"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Gemini     GeminiConfig     `yaml:"gemini"`
}

// YandexConfig holds Yandex Vision OCR credentials
type YandexConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	APIKey    string   `yaml:"api_key"`
	FolderID  string   `yaml:"folder_id"`
	Model     string   `yaml:"model"`
	Languages []string `yaml:"languages"`
}

// GeminiConfig holds Google Gemini credentials
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenRouterConfig holds OpenAI-compatible chat completion settings
type OpenRouterConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// SubmissionConfig holds upload validation and deduplication settings
type SubmissionConfig struct {
	MaxUploadBytes    int64           `yaml:"max_upload_bytes"`
	AllowedExtensions []string        `yaml:"allowed_extensions"`
	AllowedMIMETypes  []string        `yaml:"allowed_mime_types"`
	DedupeInflight    bool            `yaml:"dedupe_inflight"`
	InflightTTL       time.Duration   `yaml:"inflight_ttl"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds token bucket settings for the submission endpoint
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a configuration with every optional field populated
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Port:      6379,
			PoolSize:  10,
			KeyPrefix: "labelscan",
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
			Exchange: ExchangeConfig{
				Type:    "direct",
				Durable: true,
			},
			Queue: QueueConfig{
				Durable: true,
			},
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Consumer: ConsumerConfig{
				PrefetchCount: 1,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Cache:  CacheConfig{Backend: BackendRedis},
		Status: StatusConfig{Backend: BackendPostgres},
		Broker: BrokerConfig{Backend: BackendRabbitMQ},
		Worker: WorkerConfig{
			Concurrency:       2,
			MaxRetries:        3,
			RetryBackoff:      60 * time.Second,
			BackoffStrategy:   "fixed",
			BackoffMultiplier: 2,
			MaxBackoff:        30 * time.Minute,
			InfraRetryDelay:   10 * time.Second,
			JobTimeout:        300 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Extractor: ExtractorConfig{
				Provider: "yandex",
				Timeout:  60 * time.Second,
				Yandex: YandexConfig{
					Endpoint:  "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText",
					Model:     "page",
					Languages: []string{"ru", "en"},
				},
			},
			Classifier: ClassifierConfig{
				Provider: "openrouter",
				Timeout:  120 * time.Second,
				OpenRouter: OpenRouterConfig{
					BaseURL: "https://openrouter.ai/api/v1",
				},
			},
		},
		Submission: SubmissionConfig{
			MaxUploadBytes:    10 << 20,
			AllowedExtensions: []string{"png", "jpg", "jpeg", "gif"},
			AllowedMIMETypes:  []string{"image/png", "image/jpeg", "image/gif"},
			InflightTTL:       10 * time.Minute,
		},
	}
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Submission.MaxUploadBytes <= 0 {
		return fmt.Errorf("submission max_upload_bytes must be greater than 0")
	}

	if c.Submission.DedupeInflight && c.Submission.InflightTTL <= 0 {
		return fmt.Errorf("submission inflight_ttl must be greater than 0 when dedupe_inflight is enabled")
	}

	if c.Submission.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("submission rate_limit requests_per_second must not be negative")
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Worker.Embedded {
		return c.validateWorker()
	}

	if c.Broker.Backend == BackendMemory {
		return fmt.Errorf("memory broker requires worker.embedded")
	}

	return c.validateSharedState()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Broker.Backend == BackendMemory {
		return fmt.Errorf("memory broker cannot be shared with a standalone worker")
	}

	if err := c.validateSharedState(); err != nil {
		return err
	}

	return c.validateWorker()
}

// validateSharedState rejects process-local stores when the API and the
// worker run as separate processes
func (c *Config) validateSharedState() error {
	if c.Cache.Backend == BackendMemory {
		return fmt.Errorf("memory cache backend cannot be shared between api-service and worker-service")
	}

	if c.Status.Backend == BackendMemory {
		return fmt.Errorf("memory status backend cannot be shared between api-service and worker-service")
	}

	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max_retries must not be negative")
	}

	if c.Worker.RetryBackoff <= 0 {
		return fmt.Errorf("worker retry_backoff must be greater than 0")
	}

	if !slices.Contains([]string{"fixed", "exponential"}, c.Worker.BackoffStrategy) {
		return fmt.Errorf("unsupported worker backoff_strategy: %q", c.Worker.BackoffStrategy)
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if !slices.Contains([]string{"yandex", "gemini"}, c.Pipeline.Extractor.Provider) {
		return fmt.Errorf("unsupported extractor provider: %q", c.Pipeline.Extractor.Provider)
	}

	if !slices.Contains([]string{"openrouter", "gemini"}, c.Pipeline.Classifier.Provider) {
		return fmt.Errorf("unsupported classifier provider: %q", c.Pipeline.Classifier.Provider)
	}

	return nil
}

func (c *Config) validateBackends() error {
	if !slices.Contains([]string{BackendMemory, BackendRedis, BackendPostgres}, c.Cache.Backend) {
		return fmt.Errorf("unsupported cache backend: %q", c.Cache.Backend)
	}

	if !slices.Contains([]string{BackendMemory, BackendRedis, BackendPostgres}, c.Status.Backend) {
		return fmt.Errorf("unsupported status backend: %q", c.Status.Backend)
	}

	if !slices.Contains([]string{BackendMemory, BackendRabbitMQ}, c.Broker.Backend) {
		return fmt.Errorf("unsupported broker backend: %q", c.Broker.Backend)
	}

	if c.UsesBackend(BackendPostgres) {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.UsesBackend(BackendRedis) {
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}

		if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
			return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
		}
	}

	if c.Broker.Backend == BackendRabbitMQ {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	return nil
}

// UsesBackend reports whether the cache, status store or broker is configured
// to use backend
func (c *Config) UsesBackend(backend string) bool {
	return c.Cache.Backend == backend || c.Status.Backend == backend || c.Broker.Backend == backend
}
