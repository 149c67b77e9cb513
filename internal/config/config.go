package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/StergiosCha/perpatame/pkg/config"
	"github.com/StergiosCha/perpatame/pkg/database"
	pkglog "github.com/StergiosCha/perpatame/pkg/log"
	"github.com/StergiosCha/perpatame/pkg/pubsub"
	"github.com/StergiosCha/perpatame/pkg/storage"
)

type Config struct {
	Server     ServerConfig
	Database   database.Config
	WebSocket  WebSocketConfig
	Hydration  HydrationConfig
	Submission SubmissionConfig
	Moderation ModerationConfig
	Transform  TransformConfig
	STT        STTConfig `mapstructure:"stt"`
	Archive    ArchiveConfig
	Relay      RelayConfig
	Metrics    MetricsConfig
	Log        pkglog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig tunes connection pumps. LivenessTimeout is how long a
// connection may stay silent (no heartbeat, no pong, no message) before
// it is closed; clients heartbeat every 25s.
type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type HydrationConfig struct {
	DisplayLimit int `mapstructure:"display_limit"`
}

type SubmissionConfig struct {
	MinLength           int `mapstructure:"min_length"`
	MaxLength           int `mapstructure:"max_length"`
	IrrelevantThreshold int `mapstructure:"irrelevant_threshold"`
}

type ModerationConfig struct {
	DecideTimeout time.Duration `mapstructure:"decide_timeout"`
}

// TransformConfig configures the transformation gateway client.
type TransformConfig struct {
	URL             string
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	BreakerFailures uint          `mapstructure:"breaker_failures"`
	BreakerWindow   uint          `mapstructure:"breaker_window"`
	BreakerDelay    time.Duration `mapstructure:"breaker_delay"`
}

type STTConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Languages     []string      `mapstructure:"languages"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinAudioBytes int64         `mapstructure:"min_audio_bytes"`
	MaxAudioBytes int64         `mapstructure:"max_audio_bytes"`
}

type ArchiveConfig struct {
	Enabled bool
	Prefix  string
	Storage storage.Config
}

// RelayConfig enables cross-instance fan-out of moderation events.
type RelayConfig struct {
	Enabled    bool
	InstanceID string `mapstructure:"instance_id"`
	Channel    string
	PubSub     pubsub.Config `mapstructure:"pubsub"`
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads ./config/config.yaml plus environment overrides.
func Load() (*Config, error) {
	return LoadFrom("./config", "config")
}

// LoadFrom reads configName.yaml from configPath plus environment overrides.
func LoadFrom(configPath, configName string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, configName)
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.file_path", "DATABASE_FILE_PATH")
	v.BindEnv("transform.url", "TRANSFORM_URL")
	v.BindEnv("transform.api_key", "TRANSFORM_API_KEY")
	v.BindEnv("stt.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("relay.instance_id", "INSTANCE_ID", "HOSTNAME")
	v.BindEnv("relay.pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("relay.pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("relay.pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("archive.storage.s3.access_key_id", "AWS_ACCESS_KEY_ID")
	v.BindEnv("archive.storage.s3.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 20*time.Second)
	cfg.WebSocket.LivenessTimeout = parseDuration(v, "websocket.liveness_timeout", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.SweepInterval = parseDuration(v, "websocket.sweep_interval", 15*time.Second)
	cfg.Moderation.DecideTimeout = parseDuration(v, "moderation.decide_timeout", 10*time.Second)
	cfg.Transform.Timeout = parseDuration(v, "transform.timeout", 20*time.Second)
	cfg.STT.Timeout = parseDuration(v, "stt.timeout", 30*time.Second)

	if cfg.WebSocket.PingInterval >= cfg.WebSocket.LivenessTimeout {
		cfg.WebSocket.PingInterval = cfg.WebSocket.LivenessTimeout * 9 / 10
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./data/perpatame.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "perpatame")
	v.SetDefault("database.dbname", "perpatame")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)

	v.SetDefault("websocket.ping_interval", "20s")
	v.SetDefault("websocket.liveness_timeout", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.sweep_interval", "15s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("hydration.display_limit", 20)

	v.SetDefault("submission.min_length", 10)
	v.SetDefault("submission.max_length", 2000)
	v.SetDefault("submission.irrelevant_threshold", 3)

	v.SetDefault("moderation.decide_timeout", "10s")

	v.SetDefault("transform.url", "http://localhost:8090")
	v.SetDefault("transform.timeout", "20s")
	v.SetDefault("transform.max_retries", 2)
	v.SetDefault("transform.retry_backoff", "250ms")
	v.SetDefault("transform.max_retry_backoff", "2s")
	v.SetDefault("transform.breaker_failures", 5)
	v.SetDefault("transform.breaker_window", 10)
	v.SetDefault("transform.breaker_delay", "30s")

	v.SetDefault("stt.model", "nova-2")
	v.SetDefault("stt.languages", []string{"el", "en"})
	v.SetDefault("stt.timeout", "30s")
	v.SetDefault("stt.min_audio_bytes", 1000)
	v.SetDefault("stt.max_audio_bytes", 25<<20)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "recordings")
	v.SetDefault("archive.storage.driver", "local")
	v.SetDefault("archive.storage.local.base_path", "./data/archive")
	v.SetDefault("archive.storage.s3.region", "us-east-1")

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.channel", pubsub.DefaultChannel)
	v.SetDefault("relay.pubsub.driver", "redis")
	v.SetDefault("relay.pubsub.redis.address", "localhost:6379")
	v.SetDefault("relay.pubsub.redis.pool_size", 10)
	v.SetDefault("relay.pubsub.redis.read_timeout", "3s")
	v.SetDefault("relay.pubsub.redis.write_timeout", "3s")
	v.SetDefault("relay.pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.pubsub.kafka.group_id", "perpatame")
	v.SetDefault("relay.pubsub.kafka.partitions", 1)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "perpatame")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
