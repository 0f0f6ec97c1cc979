package config

import (
	"time"

	pkgconfig "github.com/shravanisdakve/NexusAI-sub002/pkg/config"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/database"
	pkglog "github.com/shravanisdakve/NexusAI-sub002/pkg/log"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/pubsub"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	WebSocket    WebSocketConfig
	Database     database.Config
	MessageStore MessageStoreConfig `mapstructure:"message_store"`
	Cassandra    CassandraConfig
	Redis        RedisConfig
	Cache        CacheConfig
	PubSub       PubSubConfig `mapstructure:"pubsub"`
	Room         RoomConfig
	Moderation   ModerationConfig
	Intervention InterventionConfig
	OpenAI       OpenAIConfig `mapstructure:"openai"`
	Auth         AuthConfig
	RateLimit    RateLimitConfig `mapstructure:"ratelimit"`
	Log          pkglog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	InstanceID      string        `mapstructure:"instance_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// MessageStoreConfig selects where chat messages live. Rooms and
// participants always live in the SQL database.
type MessageStoreConfig struct {
	Driver string // sql, cassandra
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Username       string
	Password       string
	Consistency    string
	Timeout        time.Duration
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	NumConns       int           `mapstructure:"num_conns"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type PubSubConfig struct {
	Enabled       bool
	QueueSize     int `mapstructure:"queue_size"`
	pubsub.Config `mapstructure:",squash"`
}

type RoomConfig struct {
	InterventionThreshold int           `mapstructure:"intervention_threshold"`
	QueueSize             int           `mapstructure:"queue_size"`
	PersistAttempts       int           `mapstructure:"persist_attempts"`
	PersistBackoff        time.Duration `mapstructure:"persist_backoff"`
	PersistTimeout        time.Duration `mapstructure:"persist_timeout"`
	MaxMessageLength      int           `mapstructure:"max_message_length"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	MediaPrefixes         []string      `mapstructure:"media_prefixes"`
}

type ModerationConfig struct {
	RulesFile  string `mapstructure:"rules_file"`
	WatchRules bool   `mapstructure:"watch_rules"`
}

type InterventionConfig struct {
	Enabled      bool
	Delay        time.Duration
	HistoryLimit int `mapstructure:"history_limit"`
	Timeout      time.Duration
}

type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string
	MaxTokens int `mapstructure:"max_tokens"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
}

type RateLimitConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	MessageBurst      int     `mapstructure:"message_burst"`
	PresenceBurst     int     `mapstructure:"presence_burst"`
	HTTPPerSecond     float64 `mapstructure:"http_per_second"`
	HTTPBurst         int     `mapstructure:"http_burst"`
}

// Load reads ./config/config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and env bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := pkgconfig.BindEnvs(v, map[string]string{
		"server.port":           "PORT",
		"server.instance_id":    "INSTANCE_ID",
		"database.driver":       "DB_DRIVER",
		"database.host":         "DB_HOST",
		"database.port":         "DB_PORT",
		"database.user":         "DB_USER",
		"database.password":     "DB_PASSWORD",
		"database.dbname":       "DB_NAME",
		"database.file_path":    "DB_FILE_PATH",
		"message_store.driver":  "MESSAGE_STORE_DRIVER",
		"redis.address":         "REDIS_ADDRESS",
		"redis.password":        "REDIS_PASSWORD",
		"pubsub.driver":         "PUBSUB_DRIVER",
		"pubsub.kafka.brokers":  "KAFKA_BROKERS",
		"pubsub.nats.url":       "NATS_URL",
		"openai.api_key":        "OPENAI_API_KEY",
		"openai.model":          "OPENAI_MODEL",
		"openai.base_url":       "OPENAI_BASE_URL",
		"auth.jwt_secret":       "JWT_SECRET",
		"moderation.rules_file": "MODERATION_RULES_FILE",
		"log.level":             "LOG_LEVEL",
	}); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Database.ConnMaxLifetime = pkgconfig.Duration(v, "database.conn_max_lifetime", 30*time.Minute)
	cfg.Cassandra.Timeout = pkgconfig.Duration(v, "cassandra.timeout", 5*time.Second)
	cfg.Cassandra.ConnectTimeout = pkgconfig.Duration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 5*time.Minute)
	cfg.PubSub.Redis.ReadTimeout = pkgconfig.Duration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = pkgconfig.Duration(v, "pubsub.redis.write_timeout", 3*time.Second)
	cfg.Room.PersistBackoff = pkgconfig.Duration(v, "room.persist_backoff", 50*time.Millisecond)
	cfg.Room.PersistTimeout = pkgconfig.Duration(v, "room.persist_timeout", 5*time.Second)
	cfg.Room.IdleTimeout = pkgconfig.Duration(v, "room.idle_timeout", 10*time.Minute)
	cfg.Intervention.Delay = pkgconfig.Duration(v, "intervention.delay", 3*time.Second)
	cfg.Intervention.Timeout = pkgconfig.Duration(v, "intervention.timeout", 20*time.Second)

	if cfg.PubSub.Redis.Address == "" {
		cfg.PubSub.Redis.Address = cfg.Redis.Address
		cfg.PubSub.Redis.Password = cfg.Redis.Password
		cfg.PubSub.Redis.DB = cfg.Redis.DB
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "studyroom")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "studyroom")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.file_path", "studyroom.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("message_store.driver", "sql")

	v.SetDefault("cassandra.hosts", []string{"localhost"})
	v.SetDefault("cassandra.keyspace", "studyroom")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.num_conns", 2)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "studyroom:room")
	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.queue_size", 1024)
	v.SetDefault("pubsub.driver", pubsub.DriverRedis)
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "studyroom")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("pubsub.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("pubsub.nats.name", "studyroom")
	v.SetDefault("pubsub.nats.max_reconnects", 5)

	v.SetDefault("room.intervention_threshold", 7)
	v.SetDefault("room.queue_size", 64)
	v.SetDefault("room.persist_attempts", 3)
	v.SetDefault("room.persist_backoff", "50ms")
	v.SetDefault("room.persist_timeout", "5s")
	v.SetDefault("room.max_message_length", 4000)
	v.SetDefault("room.idle_timeout", "10m")
	v.SetDefault("room.media_prefixes", []string{"/uploads/"})

	v.SetDefault("moderation.rules_file", "")
	v.SetDefault("moderation.watch_rules", false)

	v.SetDefault("intervention.enabled", true)
	v.SetDefault("intervention.delay", "3s")
	v.SetDefault("intervention.history_limit", 12)
	v.SetDefault("intervention.timeout", "20s")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 300)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("ratelimit.messages_per_second", 2)
	v.SetDefault("ratelimit.message_burst", 5)
	v.SetDefault("ratelimit.presence_burst", 40)
	v.SetDefault("ratelimit.http_per_second", 10)
	v.SetDefault("ratelimit.http_burst", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "studyroom-service")
}
