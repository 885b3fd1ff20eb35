package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/ripplecast/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Providers ProvidersConfig `yaml:"providers"`
	Media     MediaConfig     `yaml:"media"`
	Events    EventsConfig    `yaml:"events"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port     int    `yaml:"port" validate:"gt=0,lt=65536"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode" validate:"oneof=debug release test"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type" validate:"oneof=postgres"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type QueueConfig struct {
	// Driver selects the queue backend: "postgres" (durable) or "memory".
	Driver       string `yaml:"driver" validate:"oneof=postgres memory"`
	PollInterval string `yaml:"poll_interval"`
	MaxAttempts  int    `yaml:"max_attempts" validate:"gte=1"`
	BaseDelay    string `yaml:"base_delay"`
}

type WorkerConfig struct {
	Enabled    bool                  `yaml:"enabled"`
	JobTimeout string                `yaml:"job_timeout"`
	Platforms  map[string]PoolConfig `yaml:"platforms"`
}

// PoolConfig sizes the worker pool of one platform queue.
type PoolConfig struct {
	Concurrency   int     `yaml:"concurrency" validate:"gte=0"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
	JobTimeout    string  `yaml:"job_timeout"`
}

type ProvidersConfig struct {
	HTTPTimeout string `yaml:"http_timeout"`
	CallTimeout string `yaml:"call_timeout"`
	MediaTTL    string `yaml:"media_ttl"`

	Poll PollConfig `yaml:"poll"`

	Facebook  FacebookConfig  `yaml:"facebook"`
	Instagram InstagramConfig `yaml:"instagram"`
	LinkedIn  LinkedInConfig  `yaml:"linkedin"`
	X         XConfig         `yaml:"x"`
	TikTok    TikTokConfig    `yaml:"tiktok"`
	Pinterest PinterestConfig `yaml:"pinterest"`
}

// PollConfig bounds every processing-status poll loop.
type PollConfig struct {
	MinInterval string `yaml:"min_interval"`
	MaxInterval string `yaml:"max_interval"`
	MaxWait     string `yaml:"max_wait"`
}

type FacebookConfig struct {
	Enabled         bool   `yaml:"enabled"`
	GraphURL        string `yaml:"graph_url"`
	VideoUploadURL  string `yaml:"video_upload_url"`
	APIVersion      string `yaml:"api_version"`
	ChunkedVideoMin int64  `yaml:"chunked_video_min_bytes"`
}

type InstagramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	GraphURL   string `yaml:"graph_url"`
	APIVersion string `yaml:"api_version"`
}

type LinkedInConfig struct {
	Enabled    bool   `yaml:"enabled"`
	APIURL     string `yaml:"api_url"`
	APIVersion string `yaml:"api_version"`
}

type XConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIURL    string `yaml:"api_url"`
	UploadURL string `yaml:"upload_url"`
	ChunkSize int64  `yaml:"chunk_size"`
}

type TikTokConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIURL       string `yaml:"api_url"`
	ChunkSize    int64  `yaml:"chunk_size"`
	PrivacyLevel string `yaml:"privacy_level"`
}

type PinterestConfig struct {
	Enabled          bool   `yaml:"enabled"`
	APIURL           string `yaml:"api_url"`
	DefaultBoardName string `yaml:"default_board_name"`
}

type MediaConfig struct {
	BaseURL    string `yaml:"base_url"`
	SigningKey string `yaml:"signing_key"`
}

type EventsConfig struct {
	// Drivers lists the sinks that receive status-changed events: log, rabbitmq, pubsub, websocket.
	Drivers  []string       `yaml:"drivers" validate:"dive,oneof=log rabbitmq pubsub websocket"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	Topic     string `yaml:"topic"`
}

type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ReconcileSpec string `yaml:"reconcile_spec"`
	StatsInterval string `yaml:"stats_interval"`
}

type AuthConfig struct {
	TOTPSecret string `yaml:"totp_secret"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	TracingURL  string `yaml:"tracing_url"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}

	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "postgres"
	}
	if cfg.Queue.PollInterval == "" {
		cfg.Queue.PollInterval = "1s"
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BaseDelay == "" {
		cfg.Queue.BaseDelay = "5s"
	}

	if cfg.Worker.JobTimeout == "" {
		cfg.Worker.JobTimeout = "15m"
	}
	if cfg.Worker.Platforms == nil {
		cfg.Worker.Platforms = map[string]PoolConfig{}
	}
	for name, def := range defaultPools() {
		pool, ok := cfg.Worker.Platforms[name]
		if !ok {
			cfg.Worker.Platforms[name] = def
			continue
		}
		if pool.Concurrency == 0 {
			pool.Concurrency = def.Concurrency
		}
		if pool.RatePerSecond == 0 {
			pool.RatePerSecond = def.RatePerSecond
		}
		if pool.Burst == 0 {
			pool.Burst = def.Burst
		}
		cfg.Worker.Platforms[name] = pool
	}

	p := &cfg.Providers
	if p.HTTPTimeout == "" {
		p.HTTPTimeout = "5m"
	}
	if p.CallTimeout == "" {
		p.CallTimeout = "60s"
	}
	if p.MediaTTL == "" {
		p.MediaTTL = "1h"
	}
	if p.Poll.MinInterval == "" {
		p.Poll.MinInterval = "3s"
	}
	if p.Poll.MaxInterval == "" {
		p.Poll.MaxInterval = "30s"
	}
	if p.Poll.MaxWait == "" {
		p.Poll.MaxWait = "10m"
	}
	if p.Facebook.GraphURL == "" {
		p.Facebook.GraphURL = "https://graph.facebook.com"
	}
	if p.Facebook.VideoUploadURL == "" {
		p.Facebook.VideoUploadURL = "https://rupload.facebook.com/video-upload"
	}
	if p.Facebook.APIVersion == "" {
		p.Facebook.APIVersion = "v19.0"
	}
	if p.Facebook.ChunkedVideoMin == 0 {
		p.Facebook.ChunkedVideoMin = 50 << 20
	}
	if p.Instagram.GraphURL == "" {
		p.Instagram.GraphURL = "https://graph.facebook.com"
	}
	if p.Instagram.APIVersion == "" {
		p.Instagram.APIVersion = "v19.0"
	}
	if p.LinkedIn.APIURL == "" {
		p.LinkedIn.APIURL = "https://api.linkedin.com"
	}
	if p.LinkedIn.APIVersion == "" {
		p.LinkedIn.APIVersion = "202401"
	}
	if p.X.APIURL == "" {
		p.X.APIURL = "https://api.twitter.com"
	}
	if p.X.UploadURL == "" {
		p.X.UploadURL = "https://upload.twitter.com"
	}
	if p.X.ChunkSize == 0 {
		p.X.ChunkSize = 4 << 20
	}
	if p.TikTok.APIURL == "" {
		p.TikTok.APIURL = "https://open.tiktokapis.com"
	}
	if p.TikTok.ChunkSize == 0 {
		p.TikTok.ChunkSize = 10 << 20
	}
	if p.TikTok.PrivacyLevel == "" {
		p.TikTok.PrivacyLevel = "PUBLIC_TO_EVERYONE"
	}
	if p.Pinterest.APIURL == "" {
		p.Pinterest.APIURL = "https://api.pinterest.com"
	}
	if p.Pinterest.DefaultBoardName == "" {
		p.Pinterest.DefaultBoardName = "Ripplecast"
	}

	if len(cfg.Events.Drivers) == 0 {
		cfg.Events.Drivers = []string{"log"}
	}
	if cfg.Events.RabbitMQ.Exchange == "" {
		cfg.Events.RabbitMQ.Exchange = "publications"
	}
	if cfg.Events.RabbitMQ.RoutingKey == "" {
		cfg.Events.RabbitMQ.RoutingKey = "publication.status_changed"
	}
	if cfg.Events.PubSub.Topic == "" {
		cfg.Events.PubSub.Topic = "publication-status"
	}

	if cfg.Scheduler.ReconcileSpec == "" {
		cfg.Scheduler.ReconcileSpec = "@every 1m"
	}
	if cfg.Scheduler.StatsInterval == "" {
		cfg.Scheduler.StatsInterval = "5m"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ripplecast"
	}
}

func defaultPools() map[string]PoolConfig {
	return map[string]PoolConfig{
		"facebook":  {Concurrency: 4, RatePerSecond: 2, Burst: 4},
		"instagram": {Concurrency: 4, RatePerSecond: 1, Burst: 2},
		"linkedin":  {Concurrency: 2, RatePerSecond: 1, Burst: 2},
		"x":         {Concurrency: 2, RatePerSecond: 0.5, Burst: 1},
		"tiktok":    {Concurrency: 2, RatePerSecond: 0.5, Burst: 1},
		"pinterest": {Concurrency: 2, RatePerSecond: 1, Burst: 2},
	}
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	for _, field := range []struct{ name, value string }{
		{"queue.poll_interval", c.Queue.PollInterval},
		{"queue.base_delay", c.Queue.BaseDelay},
		{"worker.job_timeout", c.Worker.JobTimeout},
		{"providers.http_timeout", c.Providers.HTTPTimeout},
		{"providers.call_timeout", c.Providers.CallTimeout},
		{"providers.media_ttl", c.Providers.MediaTTL},
		{"providers.poll.min_interval", c.Providers.Poll.MinInterval},
		{"providers.poll.max_interval", c.Providers.Poll.MaxInterval},
		{"providers.poll.max_wait", c.Providers.Poll.MaxWait},
		{"scheduler.stats_interval", c.Scheduler.StatsInterval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}

// Duration parses a duration string that Validate has already checked, falling back to def.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
