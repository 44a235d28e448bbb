package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"firestore-client/pkg/firestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRecorder struct {
	mu      sync.Mutex
	changes []firestore.ChangeRecord
}

func (r *captureRecorder) Record(_ context.Context, changes []firestore.ChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
	return nil
}

func (r *captureRecorder) all() []firestore.ChangeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]firestore.ChangeRecord(nil), r.changes...)
}

func setWrite(path string, fields firestore.Fields) firestore.Write {
	return firestore.Write{Kind: firestore.WriteSet, Path: path, Fields: fields}
}

func TestCommitBatch_AppliesAtomically(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close()

	_, err := tr.CommitBatch(ctx, []firestore.Write{
		setWrite("users/ada", firestore.Fields{"n": firestore.IntegerValue(1)}),
		{Kind: firestore.WriteUpdate, Path: "users/missing", Mask: []string{"n"}},
	})
	assert.ErrorIs(t, err, firestore.ErrNotFound)
	assert.Empty(t, tr.Documents())

	res, err := tr.CommitBatch(ctx, []firestore.Write{
		setWrite("users/ada", firestore.Fields{"n": firestore.IntegerValue(1)}),
		setWrite("users/bob", firestore.Fields{"n": firestore.IntegerValue(2)}),
	})
	require.NoError(t, err)
	docs := tr.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "users/ada", docs[0].Path)
	assert.Equal(t, res.CommitTime, docs[0].UpdateTime)

	doc, err := tr.FetchDocument(ctx, "users/bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Fields["n"].AsInteger())

	_, err = tr.FetchDocument(ctx, "users/nobody")
	assert.ErrorIs(t, err, firestore.ErrNotFound)
}

func TestCommitBatch_SamePathTwice(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close()

	one := firestore.IntegerValue(1)
	_, err := tr.CommitBatch(ctx, []firestore.Write{
		setWrite("users/ada", firestore.Fields{"n": firestore.IntegerValue(1)}),
		{Kind: firestore.WriteUpdate, Path: "users/ada", Transforms: []firestore.FieldTransform{
			{Field: "n", Kind: firestore.TransformIncrement, Operand: &one},
		}},
	})
	require.NoError(t, err)
	doc, err := tr.FetchDocument(ctx, "users/ada")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Fields["n"].AsInteger())
}

func TestCommitBatch_CommitTimesIncrease(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(WithClock(func() time.Time { return fixed }))
	defer tr.Close()

	first, err := tr.CommitBatch(ctx, []firestore.Write{setWrite("a/1", nil)})
	require.NoError(t, err)
	second, err := tr.CommitBatch(ctx, []firestore.Write{setWrite("a/1", nil)})
	require.NoError(t, err)
	assert.True(t, second.CommitTime.After(first.CommitTime))

	stale := first.CommitTime
	_, err = tr.CommitBatch(ctx, []firestore.Write{{
		Kind: firestore.WriteDelete, Path: "a/1",
		Precondition: &firestore.Precondition{UpdateTime: &stale},
	}})
	assert.ErrorIs(t, err, firestore.ErrAborted)
}

func TestCommitBatch_RejectsInvalidWrites(t *testing.T) {
	tr := New()
	defer tr.Close()

	_, err := tr.CommitBatch(context.Background(), []firestore.Write{{Kind: firestore.WriteSet, Path: "users"}})
	assert.ErrorIs(t, err, firestore.ErrInvalidPath)
}

func TestCommitBatch_RecordsChanges(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	tr := New(WithChangeRecorder(rec))
	defer tr.Close()

	_, err := tr.CommitBatch(ctx, []firestore.Write{setWrite("users/ada", nil)})
	require.NoError(t, err)
	_, err = tr.CommitBatch(ctx, []firestore.Write{setWrite("users/ada", firestore.Fields{"a": firestore.BoolValue(true)})})
	require.NoError(t, err)
	_, err = tr.CommitBatch(ctx, []firestore.Write{
		{Kind: firestore.WriteDelete, Path: "users/ada"},
		{Kind: firestore.WriteDelete, Path: "users/never"},
	})
	require.NoError(t, err)

	changes := rec.all()
	require.Len(t, changes, 3)
	assert.Equal(t, firestore.ChangeAdded, changes[0].Kind)
	assert.Equal(t, firestore.ChangeModified, changes[1].Kind)
	assert.Equal(t, firestore.ChangeRemoved, changes[2].Kind)
	assert.Nil(t, changes[2].Document)
}

func TestFetchQuery(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close()

	_, err := tr.CommitBatch(ctx, []firestore.Write{
		setWrite("cities/SF", firestore.Fields{"pop": firestore.IntegerValue(860000)}),
		setWrite("cities/LA", firestore.Fields{"pop": firestore.IntegerValue(3900000)}),
		setWrite("cities/SF/landmarks/GG", firestore.Fields{"pop": firestore.IntegerValue(1)}),
	})
	require.NoError(t, err)

	docs, err := tr.FetchQuery(ctx, firestore.QueryDescriptor{
		CollectionID: "cities",
		OrderBy:      []firestore.OrderDescriptor{{Field: "pop", Direction: firestore.Desc}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "cities/LA", docs[0].Path)

	_, err = tr.FetchQuery(ctx, firestore.QueryDescriptor{})
	assert.ErrorIs(t, err, firestore.ErrInvalidArgument)
}

func TestUnreachable(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close()

	tr.SetReachable(false)
	_, err := tr.FetchDocument(ctx, "users/ada")
	assert.ErrorIs(t, err, firestore.ErrUnavailable)
	_, err = tr.CommitBatch(ctx, []firestore.Write{setWrite("users/ada", nil)})
	assert.ErrorIs(t, err, firestore.ErrUnavailable)

	tr.SetReachable(true)
	_, err = tr.CommitBatch(ctx, []firestore.Write{setWrite("users/ada", nil)})
	assert.NoError(t, err)
}

func next(t *testing.T, ch <-chan firestore.WatchEvent) firestore.WatchEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a watch event")
	}
	return firestore.WatchEvent{}
}

func TestSubscribe_Document(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := New()
	defer tr.Close()

	stream, err := tr.Subscribe(ctx, firestore.Target{DocumentPath: "users/ada"})
	require.NoError(t, err)

	ev := next(t, stream)
	assert.Empty(t, ev.Documents)

	_, err = tr.CommitBatch(ctx, []firestore.Write{setWrite("users/bob", nil)})
	require.NoError(t, err)
	res, err := tr.CommitBatch(ctx, []firestore.Write{setWrite("users/ada", firestore.Fields{"n": firestore.IntegerValue(1)})})
	require.NoError(t, err)

	ev = next(t, stream)
	require.Len(t, ev.Documents, 1)
	assert.Equal(t, "users/ada", ev.Documents[0].Path)
	assert.False(t, ev.ReadTime.Before(res.CommitTime))

	cancel()
	select {
	case _, ok := <-stream:
		for ok {
			_, ok = <-stream
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestSubscribe_Query(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close()

	q := firestore.QueryDescriptor{
		CollectionID: "users",
		Filters:      []firestore.FilterDescriptor{{Field: "admin", Op: firestore.OpEqual, Value: firestore.BoolValue(true)}},
	}
	stream, err := tr.Subscribe(ctx, firestore.Target{Query: &q})
	require.NoError(t, err)
	assert.Empty(t, next(t, stream).Documents)

	_, err = tr.CommitBatch(ctx, []firestore.Write{setWrite("users/ada", firestore.Fields{"admin": firestore.BoolValue(true)})})
	require.NoError(t, err)
	ev := next(t, stream)
	require.Len(t, ev.Documents, 1)

	_, err = tr.Subscribe(ctx, firestore.Target{})
	assert.ErrorIs(t, err, firestore.ErrInvalidArgument)
}

func TestSubscribe_EndsWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close()

	stream, err := tr.Subscribe(ctx, firestore.Target{DocumentPath: "users/ada"})
	require.NoError(t, err)
	next(t, stream)

	_, err = tr.CommitBatch(ctx, []firestore.Write{setWrite("users/ada", nil)})
	require.NoError(t, err)
	next(t, stream)

	tr.SetReachable(false)
	go func() {
		// Writes are refused while unreachable; bump the bus directly.
		tr.publish(ctx, []firestore.ChangeRecord{{Kind: firestore.ChangeModified, Path: "users/ada"}})
	}()
	ev := next(t, stream)
	assert.ErrorIs(t, ev.Err, firestore.ErrUnavailable)
}

func TestClose_EndsStreams(t *testing.T) {
	tr := New()
	stream, err := tr.Subscribe(context.Background(), firestore.Target{DocumentPath: "users/ada"})
	require.NoError(t, err)
	next(t, stream)

	require.NoError(t, tr.Close())
	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}

	_, err = tr.FetchDocument(context.Background(), "users/ada")
	assert.ErrorIs(t, err, firestore.ErrUnavailable)
}
