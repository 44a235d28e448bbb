package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"firestore-client/pkg/firestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// newTestTransport needs a replica set, e.g.
// MONGODB_TEST_URI=mongodb://localhost:27017/?replicaSet=rs0
func newTestTransport(t *testing.T, opts ...Option) *Transport {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("MongoDB not reachable: %v", err)
	}

	db := client.Database(fmt.Sprintf("firestore_test_%d", time.Now().UnixNano()))
	tr, err := New(ctx, db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		tr.Close()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return tr
}

type recorderFunc func([]firestore.ChangeRecord)

func (f recorderFunc) Record(_ context.Context, changes []firestore.ChangeRecord) error {
	f(changes)
	return nil
}

func TestTransport_CommitAndRead(t *testing.T) {
	var recorded []firestore.ChangeRecord
	tr := newTestTransport(t, WithChangeRecorder(recorderFunc(func(c []firestore.ChangeRecord) {
		recorded = append(recorded, c...)
	})))
	ctx := context.Background()

	_, err := tr.FetchDocument(ctx, "users/ada")
	assert.True(t, errors.Is(err, firestore.ErrNotFound))

	result, err := tr.CommitBatch(ctx, []firestore.Write{
		{Kind: firestore.WriteSet, Path: "users/ada", Fields: firestore.Fields{"age": firestore.IntegerValue(36)}},
		{Kind: firestore.WriteSet, Path: "users/bob", Fields: firestore.Fields{"age": firestore.IntegerValue(25)}},
		{Kind: firestore.WriteSet, Path: "users/ada/posts/p1", Fields: firestore.Fields{"title": firestore.StringValue("x")}},
	})
	require.NoError(t, err)

	doc, err := tr.FetchDocument(ctx, "users/ada")
	require.NoError(t, err)
	assert.Equal(t, int64(36), doc.Fields["age"].AsInteger())
	assert.True(t, doc.UpdateTime.Equal(result.CommitTime))

	docs, err := tr.FetchQuery(ctx, firestore.QueryDescriptor{
		CollectionID: "users",
		OrderBy:      []firestore.OrderDescriptor{{Field: "age", Direction: firestore.Asc}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "users/bob", docs[0].Path)

	group, err := tr.FetchQuery(ctx, firestore.QueryDescriptor{CollectionID: "posts", AllDescendants: true})
	require.NoError(t, err)
	assert.Len(t, group, 1)

	assert.Len(t, recorded, 3)
	assert.Equal(t, firestore.ChangeAdded, recorded[0].Kind)
}

func TestTransport_CommitIsAtomic(t *testing.T) {
	tr := newTestTransport(t)
	ctx := context.Background()
	exists := true

	_, err := tr.CommitBatch(ctx, []firestore.Write{
		{Kind: firestore.WriteSet, Path: "users/ada", Fields: firestore.Fields{}},
		{Kind: firestore.WriteDelete, Path: "users/ghost", Precondition: &firestore.Precondition{Exists: &exists}},
	})
	assert.True(t, errors.Is(err, firestore.ErrAborted), "got %v", err)

	_, err = tr.FetchDocument(ctx, "users/ada")
	assert.True(t, errors.Is(err, firestore.ErrNotFound), "nothing from a failed commit is stored")
}

func TestTransport_Subscribe(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := tr.Subscribe(ctx, firestore.Target{DocumentPath: "rooms/r1"})
	require.NoError(t, err)

	next := func() firestore.WatchEvent {
		select {
		case ev := <-events:
			return ev
		case <-time.After(10 * time.Second):
			t.Fatal("no event")
		}
		return firestore.WatchEvent{}
	}

	ev := next()
	require.NoError(t, ev.Err)
	assert.Empty(t, ev.Documents)

	_, err = tr.CommitBatch(ctx, []firestore.Write{
		{Kind: firestore.WriteSet, Path: "rooms/r1", Fields: firestore.Fields{"topic": firestore.StringValue("go")}},
	})
	require.NoError(t, err)

	ev = next()
	require.NoError(t, ev.Err)
	require.Len(t, ev.Documents, 1)
	assert.Equal(t, "go", ev.Documents[0].Fields["topic"].AsString())

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, 5*time.Second, 10*time.Millisecond)
}
