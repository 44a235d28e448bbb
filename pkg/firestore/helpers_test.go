package firestore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"firestore-client/pkg/firestore"
	"firestore-client/pkg/transport/memory"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func newStore() *memory.Transport {
	return memory.New(memory.WithLogger(firestore.NewNopLogger()))
}

func newClient(t *testing.T, tr firestore.Transport) *firestore.Client {
	t.Helper()
	c, err := firestore.New(context.Background(), firestore.Config{
		ProjectID: "demo-project",
		Logger:    firestore.NewNopLogger(),
	}, tr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustDoc(t *testing.T, c *firestore.Client, path string) *firestore.DocumentReference {
	t.Helper()
	ref, err := c.Doc(path)
	require.NoError(t, err)
	return ref
}

func mustCollection(t *testing.T, c *firestore.Client, path string) *firestore.CollectionReference {
	t.Helper()
	col, err := c.Collection(path)
	require.NoError(t, err)
	return col
}

// receive waits for the next value on ch.
func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %T", *new(T))
	}
	panic("unreachable")
}

// blockingTransport holds commits until release is closed while block is set.
type blockingTransport struct {
	firestore.Transport
	block   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newBlockingTransport(inner firestore.Transport) *blockingTransport {
	return &blockingTransport{
		Transport: inner,
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
}

func (b *blockingTransport) CommitBatch(ctx context.Context, writes []firestore.Write) (*firestore.CommitResult, error) {
	if b.block.Load() {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.Transport.CommitBatch(ctx, writes)
}

// gatedTransport holds Subscribe calls until the gate opens and counts them.
type gatedTransport struct {
	firestore.Transport
	gate       chan struct{}
	entered    chan struct{}
	subscribes atomic.Int32
}

func newGatedTransport(inner firestore.Transport) *gatedTransport {
	return &gatedTransport{Transport: inner, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
}

func (g *gatedTransport) Subscribe(ctx context.Context, target firestore.Target) (<-chan firestore.WatchEvent, error) {
	g.subscribes.Add(1)
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.Transport.Subscribe(ctx, target)
}

// failingStreamTransport answers every Subscribe with a stream that carries
// one error event.
type failingStreamTransport struct {
	firestore.Transport
	err        error
	subscribes atomic.Int32
}

func (f *failingStreamTransport) Subscribe(ctx context.Context, target firestore.Target) (<-chan firestore.WatchEvent, error) {
	f.subscribes.Add(1)
	ch := make(chan firestore.WatchEvent, 1)
	ch <- firestore.WatchEvent{Err: f.err}
	close(ch)
	return ch, nil
}

// recorder collects callback invocations.
type recorder[T any] struct {
	mu    sync.Mutex
	items []T
	ch    chan T
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan T, 64)}
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
	r.ch <- v
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
