package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"firestore-client/internal/shared/contextkeys"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerInterface_Contract(t *testing.T) {
	var _ Logger = NewLogger()
	var _ Logger = NewLoggerWithConfig("info", "json")
	var _ Logger = NewNopLogger()
	var _ Logger = NewZapLogger(zap.NewNop())
}

func TestLogrusLogger_JSONCarriesContextAndComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithOutput("debug", "json", &buf)

	ctx := context.WithValue(context.Background(), contextkeys.OperationKey, "commit")
	ctx = context.WithValue(ctx, contextkeys.ListenerIDKey, "l-1")
	log.WithComponent("cache").WithContext(ctx).WithFields(map[string]interface{}{"path": "users/ada"}).Info("invalidated")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "invalidated", entry["message"])
	assert.Equal(t, "cache", entry["component"])
	assert.Equal(t, "commit", entry["operation"])
	assert.Equal(t, "l-1", entry["listener_id"])
	assert.Equal(t, "users/ada", entry["path"])
}

func TestLogrusLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithOutput("warn", "json", &buf)
	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	log.Warnf("visible %d", 1)
	assert.Contains(t, buf.String(), "visible 1")
}

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewZapLogger(zap.New(core))

	log.WithComponent("listener").WithFields(map[string]interface{}{"target": "users"}).Debugf("delivered %d docs", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "delivered 3 docs", entries[0].Message)
	ctxMap := entries[0].ContextMap()
	assert.Equal(t, "listener", ctxMap["component"])
	assert.Equal(t, "users", ctxMap["target"])
}
