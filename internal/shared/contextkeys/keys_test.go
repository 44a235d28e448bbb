package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKey_String(t *testing.T) {
	key := contextKey("testKey")
	assert.Equal(t, "firestore-client context key testKey", key.String())
}

func TestContextKeys_Usage(t *testing.T) {
	ctx := context.Background()
	ctx = context.WithValue(ctx, RequestIDKey, "req-456")
	ctx = context.WithValue(ctx, ProjectIDKey, "project-789")
	ctx = context.WithValue(ctx, DatabaseIDKey, "db-xyz")
	ctx = context.WithValue(ctx, UserIDKey, "user-123")
	ctx = context.WithValue(ctx, OperationKey, "commit")
	ctx = context.WithValue(ctx, ListenerIDKey, "listener-1")

	assert.Equal(t, "req-456", ctx.Value(RequestIDKey))
	assert.Equal(t, "project-789", ctx.Value(ProjectIDKey))
	assert.Equal(t, "db-xyz", ctx.Value(DatabaseIDKey))
	assert.Equal(t, "user-123", ctx.Value(UserIDKey))
	assert.Equal(t, "commit", ctx.Value(OperationKey))
	assert.Equal(t, "listener-1", ctx.Value(ListenerIDKey))
}
