package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig names the request and result streams shared with the
// external worker fleet.
type QueueConfig struct {
	RequestStream string `yaml:"requestStream"`
	ResultStream  string `yaml:"resultStream"`
	Group         string `yaml:"group"`
	// VisibilityTimeoutMs is how long a received message may sit
	// unacknowledged before another consumer may reclaim it.
	VisibilityTimeoutMs int `yaml:"visibilityTimeoutMs"`
	// PublishMaxRetries bounds the backoff retries around a publish.
	PublishMaxRetries int `yaml:"publishMaxRetries"`
}

// WorkerConfig controls the result consumer loop.
type WorkerConfig struct {
	PollWaitMs       int `yaml:"pollWaitMs"`
	MaxMessages      int `yaml:"maxMessages"`
	DedupCacheSize   int `yaml:"dedupCacheSize"`
	StaleQueuedAfter int `yaml:"staleQueuedAfterMinutes"`
}

type AuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	InitialAdminKey string `yaml:"initialAdminKey"`
	// InternalToken authenticates the worker-facing internal endpoints.
	InternalToken string `yaml:"internalToken"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

type GenerateConfig struct {
	DefaultLanguage string `yaml:"defaultLanguage"`
	DefaultBudget   int    `yaml:"defaultBudget"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Generate  GenerateConfig  `yaml:"generate"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queue.RequestStream == "" {
		cfg.Queue.RequestStream = "bricksmith:requests"
	}
	if cfg.Queue.ResultStream == "" {
		cfg.Queue.ResultStream = "bricksmith:results"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "bricksmith"
	}
	if cfg.Queue.VisibilityTimeoutMs <= 0 {
		cfg.Queue.VisibilityTimeoutMs = 30000
	}
	if cfg.Queue.PublishMaxRetries <= 0 {
		cfg.Queue.PublishMaxRetries = 3
	}
	if cfg.Worker.PollWaitMs <= 0 {
		cfg.Worker.PollWaitMs = 5000
	}
	if cfg.Worker.MaxMessages <= 0 {
		cfg.Worker.MaxMessages = 10
	}
	if cfg.Worker.DedupCacheSize <= 0 {
		cfg.Worker.DedupCacheSize = 1000
	}
	if cfg.Worker.StaleQueuedAfter <= 0 {
		cfg.Worker.StaleQueuedAfter = 30
	}
	if cfg.Generate.DefaultLanguage == "" {
		cfg.Generate.DefaultLanguage = "en"
	}
	if cfg.Generate.DefaultBudget <= 0 {
		cfg.Generate.DefaultBudget = 300
	}
}
