package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.False(t, cfg.AuthEnabled())
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "firestore:changes", cfg.Redis.StreamKey)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetAddr())
}

func TestLoadServerConfig_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("FIRESTORE_BACKEND", "MONGO")
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_STREAM_MAX_LENGTH", "50")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendMongo, cfg.Backend)
	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.GetAddr())
	assert.Equal(t, int64(50), cfg.Redis.StreamMaxLength)
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	t.Setenv("FIRESTORE_BACKEND", "postgres")
	_, err := LoadServerConfig()
	assert.Error(t, err)

	t.Setenv("FIRESTORE_BACKEND", "memory")
	t.Setenv("ACCESS_TOKEN_TTL", "soon")
	_, err = LoadServerConfig()
	assert.Error(t, err)
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("FIRESTORE_EMULATOR_HOST", "emulator:8080")
	t.Setenv("FIRESTORE_AUTH_TOKEN", "tok")

	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "emulator:8080", cfg.EmulatorHost)
	assert.Equal(t, "(default)", cfg.DatabaseID)
	assert.Equal(t, "tok", cfg.AuthToken)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("FIRESTORE_PROJECT_ID=from-dotenv\n"), 0o600))
	t.Setenv("FIRESTORE_PROJECT_ID", "placeholder")
	require.NoError(t, os.Unsetenv("FIRESTORE_PROJECT_ID"))

	require.NoError(t, LoadDotEnv(file))
	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.ProjectID)

	assert.Error(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestRedisConfig_NewClient(t *testing.T) {
	cfg := DefaultServerConfig().Redis
	cfg.ConnMaxIdleTime = 5 * time.Minute
	client := cfg.NewClient()
	defer client.Close()

	opts := client.Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 5*time.Minute, opts.ConnMaxIdleTime)
	assert.Equal(t, time.Hour, opts.ConnMaxLifetime)
	assert.True(t, opts.ContextTimeoutEnabled)
	assert.Nil(t, opts.TLSConfig)

	cfg.EnableTLS = true
	cfg.Host = "redis.internal"
	tlsClient := cfg.NewClient()
	defer tlsClient.Close()
	require.NotNil(t, tlsClient.Options().TLSConfig)
	assert.Equal(t, "redis.internal", tlsClient.Options().TLSConfig.ServerName)
}

func TestLoadServerConfig_RedisDurations(t *testing.T) {
	t.Setenv("REDIS_CONN_MAX_IDLE_TIME", "90s")
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Redis.ConnMaxIdleTime)
	assert.Equal(t, time.Hour, cfg.Redis.ConnMaxLifetime)
}
