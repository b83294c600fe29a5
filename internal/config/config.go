package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// StorageConfig selects the session store backend. Working directories and
// conversation records always live below Root.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Root     string         `mapstructure:"root"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	// URL, when set, is used as the DSN instead of the discrete fields
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Namespace string        `mapstructure:"namespace"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	Username        string        `mapstructure:"username"`
	PasswordHash    string        `mapstructure:"password_hash"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// Approval modes for tool calls
const (
	ApprovalAuto    = "auto"
	ApprovalConfirm = "confirm"
)

type AgentConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	Model               string        `mapstructure:"model"`
	Temperature         float32       `mapstructure:"temperature"`
	SystemInstruction   string        `mapstructure:"system_instruction"`
	MaxTurns            int           `mapstructure:"max_turns"`
	SessionTTL          time.Duration `mapstructure:"session_ttl"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	ApprovalMode        string        `mapstructure:"approval_mode"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
}

// DatabaseConnection is a database the query tool may read from
type DatabaseConnection struct {
	Name   string `mapstructure:"name"`
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ToolsConfig struct {
	MaxRows      int                  `mapstructure:"max_rows"`
	QueryTimeout time.Duration        `mapstructure:"query_timeout"`
	MaxReadBytes int64                `mapstructure:"max_read_bytes"`
	Databases    []DatabaseConnection `mapstructure:"databases"`
}

type SecurityConfig struct {
	// SecretKey is the base64 AES key opening sealed ("enc:") secrets
	SecretKey string          `mapstructure:"secret_key"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite, DriverPostgres, DriverMongo:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Agent.ApprovalMode {
	case ApprovalAuto, ApprovalConfirm:
	default:
		return fmt.Errorf("unknown approval mode %q", c.Agent.ApprovalMode)
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive")
	}
	if c.Auth.Enabled && (c.Auth.JWTSecret == "" || c.Auth.PasswordHash == "") {
		return fmt.Errorf("auth enabled without jwt_secret or password_hash")
	}
	return nil
}

// Opener resolves a possibly sealed secret to its plain value
type Opener interface {
	Open(value string) (string, error)
}

// Unseal replaces the sealed secrets of the configuration with their plain values
func (c *Config) Unseal(o Opener) error {
	secrets := []*string{
		&c.Agent.APIKey,
		&c.Auth.JWTSecret,
		&c.Storage.Postgres.Password,
		&c.Storage.Mongo.URI,
		&c.Redis.Password,
	}
	for i := range c.Tools.Databases {
		secrets = append(secrets, &c.Tools.Databases[i].DSN)
	}

	for _, s := range secrets {
		plain, err := o.Open(*s)
		if err != nil {
			return fmt.Errorf("failed to open secret: %w", err)
		}
		*s = plain
	}
	return nil
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile makes a missing file surface as a PathError, not ConfigFileNotFoundError
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // streams stay open for the whole turn
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Storage
	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.root", "./data")
	v.SetDefault("storage.sqlite.path", "./data/sessions.db")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "agentbridge")
	v.SetDefault("storage.postgres.database", "agentbridge")
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("storage.postgres.max_conns", 20)
	v.SetDefault("storage.postgres.min_conns", 2)
	v.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo.database", "agentbridge")
	v.SetDefault("storage.mongo.connect_timeout", "10s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.namespace", "agent-bridge")
	v.SetDefault("redis.lock_ttl", "30m")

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h") // 7 days

	// Agent
	v.SetDefault("agent.model", "gemini-2.0-flash")
	v.SetDefault("agent.temperature", 0.2)
	v.SetDefault("agent.max_turns", 50)
	v.SetDefault("agent.session_ttl", "24h")
	v.SetDefault("agent.sweep_interval", "1h")
	v.SetDefault("agent.approval_mode", ApprovalAuto)
	v.SetDefault("agent.confirmation_timeout", "5m")
	v.SetDefault("agent.max_retries", 3)

	// Tools
	v.SetDefault("tools.max_rows", 200)
	v.SetDefault("tools.query_timeout", "30s")
	v.SetDefault("tools.max_read_bytes", 1<<20)

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 30)
	v.SetDefault("security.rate_limit.burst", 10)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.root", "STORAGE_ROOT")
	v.BindEnv("storage.postgres.password", "POSTGRES_PASSWORD")
	v.BindEnv("storage.postgres.url", "DATABASE_URL")
	v.BindEnv("storage.mongo.uri", "MONGO_URI")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.password_hash", "AUTH_PASSWORD_HASH")
	v.BindEnv("agent.api_key", "GEMINI_API_KEY")
	v.BindEnv("agent.approval_mode", "APPROVAL_MODE")
	v.BindEnv("security.secret_key", "SECRET_KEY")
	v.BindEnv("logging.level", "LOG_LEVEL")
}
