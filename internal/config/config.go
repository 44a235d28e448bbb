package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Storage backends the emulator server can run on.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// RedisConfig configures the optional Redis change log.
type RedisConfig struct {
	Enabled         bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Host            string `env:"REDIS_HOST" envDefault:"localhost"`
	Port            string `env:"REDIS_PORT" envDefault:"6379"`
	Password        string `env:"REDIS_PASSWORD"`
	Database        int    `env:"REDIS_DB" envDefault:"0"`
	MaxRetries      int    `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	PoolSize        int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns    int    `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	EnableTLS       bool   `env:"REDIS_TLS" envDefault:"false"`
	ConnMaxIdleTime time.Duration `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"30m"`
	ConnMaxLifetime time.Duration `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"1h"`

	// StreamKey is the Redis stream that holds committed changes.
	StreamKey       string `env:"REDIS_STREAM_KEY" envDefault:"firestore:changes"`
	StreamMaxLength int64  `env:"REDIS_STREAM_MAX_LENGTH" envDefault:"10000"`
}

// GetAddr returns host:port.
func (c *RedisConfig) GetAddr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewClient opens the client the change log reads and appends with. Socket
// deadlines also honor the caller's context.
func (c *RedisConfig) NewClient() *redis.Client {
	opts := &redis.Options{
		Addr:                  c.GetAddr(),
		Password:              c.Password,
		DB:                    c.Database,
		MaxRetries:            c.MaxRetries,
		PoolSize:              c.PoolSize,
		MinIdleConns:          c.MinIdleConns,
		DialTimeout:           5 * time.Second,
		ContextTimeoutEnabled: true,
		ConnMaxIdleTime:       c.ConnMaxIdleTime,
		ConnMaxLifetime:       c.ConnMaxLifetime,
	}
	if c.EnableTLS {
		opts.TLSConfig = &tls.Config{ServerName: c.Host}
	}
	return redis.NewClient(opts)
}

// ServerConfig holds the emulator server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"localhost"`
	Port string `env:"SERVER_PORT" envDefault:"8080"`

	ProjectID string `env:"FIRESTORE_PROJECT_ID" envDefault:"demo-project"`
	Backend   string `env:"FIRESTORE_BACKEND" envDefault:"memory"`

	MongoDBURI      string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDBDatabase string `env:"MONGODB_DATABASE" envDefault:"firestore_emulator"`

	// RulesFile is a YAML security rules file. Without one every request is allowed.
	RulesFile  string `env:"RULES_FILE"`
	RulesWatch bool   `env:"RULES_WATCH" envDefault:"false"`

	// JWTSecretKey enables bearer token authentication when set.
	JWTSecretKey   string        `env:"JWT_SECRET_KEY"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"firestore-emulator"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`

	Redis RedisConfig
}

// Addr returns host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// AuthEnabled reports whether requests must carry a bearer token.
func (c *ServerConfig) AuthEnabled() bool {
	return c.JWTSecretKey != ""
}

// Validate checks values that env tags cannot express.
func (c *ServerConfig) Validate() error {
	c.Backend = strings.ToLower(c.Backend)
	if c.Backend != BackendMemory && c.Backend != BackendMongo {
		return fmt.Errorf("FIRESTORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendMongo, c.Backend)
	}
	if c.Backend == BackendMongo && c.MongoDBURI == "" {
		return errors.New("MONGODB_URI is required for the mongo backend")
	}
	if c.AuthEnabled() && c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.Redis.Enabled && c.Redis.StreamKey == "" {
		return errors.New("REDIS_STREAM_KEY is required when Redis is enabled")
	}
	return nil
}

// ClientConfig configures a client of a remote emulator.
type ClientConfig struct {
	EmulatorHost   string        `env:"FIRESTORE_EMULATOR_HOST" envDefault:"localhost:8080"`
	ProjectID      string        `env:"FIRESTORE_PROJECT_ID" envDefault:"demo-project"`
	DatabaseID     string        `env:"FIRESTORE_DATABASE_ID" envDefault:"(default)"`
	AuthToken      string        `env:"FIRESTORE_AUTH_TOKEN"`
	RequestTimeout time.Duration `env:"FIRESTORE_REQUEST_TIMEOUT" envDefault:"10s"`
	UseTLS         bool          `env:"FIRESTORE_USE_TLS" envDefault:"false"`
}

// LoadDotEnv loads the given .env files, or ./.env when none are named. A
// missing default file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !isNotExist(err) {
			return err
		}
		return nil
	}
	return godotenv.Load(files...)
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "cannot find the file")
}

// LoadServerConfig reads the server configuration from the environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load server configuration from environment: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClientConfig reads the client configuration from the environment.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load client configuration from environment: " + err.Error())
	}
	if cfg.EmulatorHost == "" {
		return nil, errors.New("FIRESTORE_EMULATOR_HOST is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return cfg, nil
}

// DefaultServerConfig returns the configuration used when nothing is set.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "localhost",
		Port:            "8080",
		ProjectID:       "demo-project",
		Backend:         BackendMemory,
		MongoDBURI:      "mongodb://localhost:27017",
		MongoDBDatabase: "firestore_emulator",
		JWTIssuer:       "firestore-emulator",
		AccessTokenTTL:  time.Hour,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		Redis: RedisConfig{
			Host:            "localhost",
			Port:            "6379",
			MaxRetries:      3,
			PoolSize:        10,
			MinIdleConns:    2,
			ConnMaxIdleTime: 30 * time.Minute,
			ConnMaxLifetime: time.Hour,
			StreamKey:       "firestore:changes",
			StreamMaxLength: 10000,
		},
	}
}
