package internal

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration. Values come from a YAML file
// with ${VAR} expansion; the handful of environment variables the original
// deployment recognizes override the file afterwards, so the server can run
// with no config file at all.
type Config struct {
	// Server holds HTTP server configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Webhook configures the ingestion endpoint.
	Webhook struct {
		Path string `yaml:"path"`
		// AliasPath is a second route for the same handler, matching the
		// GitHub App webhook URL layout.
		AliasPath string `yaml:"alias_path"`
		Secret    string `yaml:"secret"`
		// AllowUnsigned opts into accepting unauthenticated deliveries when
		// no secret is configured. The default is fail-closed.
		AllowUnsigned bool `yaml:"allow_unsigned"`
	} `yaml:"webhook"`
	// Store configures the append-only event log.
	Store struct {
		Path      string `yaml:"path"`
		CacheSize int    `yaml:"cache_size"`
	} `yaml:"store"`
	// Hub configures the live broadcast fan-out.
	Hub struct {
		BufferSize       int `yaml:"buffer_size"`
		SubscriberBuffer int `yaml:"subscriber_buffer"`
	} `yaml:"hub"`
	// Queue configures the review job queue.
	Queue QueueConfig `yaml:"queue"`
	// Review configures the downstream review pipeline.
	Review ReviewConfig `yaml:"review"`
	// Rules optionally replace the built-in review qualification rule.
	Rules []Rule `yaml:"rules"`
}

// QueueConfig holds configuration for the review job queue and its drivers.
type QueueConfig struct {
	Driver    string          `yaml:"driver"`
	Topic     string          `yaml:"topic"`
	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	NATS      NATSConfig      `yaml:"nats"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	SQL       SQLConfig       `yaml:"sql"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// GoChannelConfig holds configuration for the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer int64 `yaml:"output_buffer"`
	Persistent          bool  `yaml:"persistent"`
}

// KafkaConfig holds configuration for the Kafka queue driver.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS Streaming queue driver.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	Durable   string `yaml:"durable"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP queue driver.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL queue driver.
type SQLConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	Dialect          string `yaml:"dialect"`
	InitializeSchema bool   `yaml:"initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP forwarding driver
// (publish-only).
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// ReviewConfig holds connection parameters for the language-model review
// service. The pipeline treats the service as an opaque remote call with a
// bounded timeout.
type ReviewConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	TimeoutMS   int64  `yaml:"timeout_ms"`
	GitHubToken string `yaml:"github_token"`
	// Comment posts the review text back to the pull request when a GitHub
	// token is configured.
	Comment    bool `yaml:"comment"`
	MaxResults int  `yaml:"max_results"`
	// MaxFiles caps how many changed files are folded into the prompt.
	MaxFiles int `yaml:"max_files"`
}

// LoadConfig loads the application configuration from a YAML file, expands
// environment variables, applies defaults, and then applies environment
// overrides. A missing file is not an error; the server falls back to
// defaults plus environment.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	cfg.Review.Enabled = true

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, err
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults + environment only
	default:
		return cfg, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MONITOR_EVENTS_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Review.GitHubToken = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.Review.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Review.Model = v
	}
	if v := os.Getenv("LLM_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Review.TimeoutMS = ms
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 120000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 5 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/debug/vars"
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if cfg.Webhook.AliasPath == "" {
		cfg.Webhook.AliasPath = "/webhook/github"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "repo-monitor-events.jsonl"
	}
	if cfg.Store.CacheSize == 0 {
		cfg.Store.CacheSize = 200
	}
	if cfg.Hub.BufferSize == 0 {
		cfg.Hub.BufferSize = 64
	}
	if cfg.Hub.SubscriberBuffer == 0 {
		cfg.Hub.SubscriberBuffer = 16
	}
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "gochannel"
	}
	if cfg.Queue.Topic == "" {
		cfg.Queue.Topic = "reviews"
	}
	if cfg.Queue.GoChannel.OutputChannelBuffer == 0 {
		cfg.Queue.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Queue.HTTP.Mode == "" {
		cfg.Queue.HTTP.Mode = "topic_url"
	}
	if cfg.Review.BaseURL == "" {
		cfg.Review.BaseURL = "http://localhost:8000"
	}
	if cfg.Review.Model == "" {
		cfg.Review.Model = "llama3"
	}
	if cfg.Review.TimeoutMS == 0 {
		cfg.Review.TimeoutMS = 60000
	}
	if cfg.Review.MaxResults == 0 {
		cfg.Review.MaxResults = 200
	}
	if cfg.Review.MaxFiles == 0 {
		cfg.Review.MaxFiles = 50
	}
}
