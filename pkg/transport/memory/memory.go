// Package memory is an in-process Transport. It is the reference backend for
// tests and the default store of the emulator server.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/internal/shared/eventbus"
	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"
)

const eventSource = "memory"

// Transport keeps every document in a map guarded by one mutex.
type Transport struct {
	mu         sync.RWMutex
	docs       map[string]*firestore.Document
	lastCommit time.Time

	bus       *eventbus.EventBus
	recorder  firestore.ChangeRecorder
	logger    logger.Logger
	now       func() time.Time
	reachable atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l firestore.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithChangeRecorder records every committed change, e.g. into a Redis stream.
func WithChangeRecorder(r firestore.ChangeRecorder) Option {
	return func(t *Transport) { t.recorder = r }
}

// WithClock replaces time.Now for commit times.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Transport {
	t := &Transport{
		docs:   make(map[string]*firestore.Document),
		logger: logger.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("memory_transport")
	t.bus = eventbus.NewEventBusWithConfig(t.logger, eventbus.BusConfig{})
	t.reachable.Store(true)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// SetReachable simulates losing and regaining the connection. While unreachable
// every call fails with UNAVAILABLE and open streams end with UNAVAILABLE on
// their next change.
func (t *Transport) SetReachable(reachable bool) {
	t.reachable.Store(reachable)
	t.logger.Infof("Reachable set to %v", reachable)
}

func (t *Transport) check() error {
	if t.ctx.Err() != nil {
		return apperrors.NewUnavailableError("transport is closed")
	}
	if !t.reachable.Load() {
		return apperrors.NewUnavailableError("transport is unreachable")
	}
	return nil
}

// FetchDocument implements firestore.Transport.
func (t *Transport) FetchDocument(ctx context.Context, path string) (*firestore.Document, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	doc, ok := t.docs[path]
	if !ok {
		return nil, apperrors.NewNotFoundError("document " + path)
	}
	return doc.Clone(), nil
}

// FetchQuery implements firestore.Transport.
func (t *Transport) FetchQuery(ctx context.Context, q firestore.QueryDescriptor) ([]*firestore.Document, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runQuery(q), nil
}

// runQuery must be called with mu held.
func (t *Transport) runQuery(q firestore.QueryDescriptor) []*firestore.Document {
	candidates := make([]*firestore.Document, 0)
	for path, doc := range t.docs {
		if q.Contains(path) {
			candidates = append(candidates, doc)
		}
	}
	result := q.Apply(candidates)
	out := make([]*firestore.Document, len(result))
	for i, d := range result {
		out[i] = d.Clone()
	}
	return out
}

// CommitBatch applies writes atomically: every write is staged first and the
// store only changes when all of them succeed.
func (t *Transport) CommitBatch(ctx context.Context, writes []firestore.Write) (*firestore.CommitResult, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	commitTime := t.nextCommitTime()
	staged := make(map[string]*firestore.Document)
	var order []string
	for _, w := range writes {
		existing, ok := staged[w.Path]
		if !ok {
			existing = t.docs[w.Path]
		}
		next, err := w.Apply(existing, commitTime)
		if err != nil {
			t.mu.Unlock()
			t.logger.Debugf("Commit rejected at %s: %v", w.Path, err)
			return nil, err
		}
		if w.Kind == firestore.WriteVerify {
			continue
		}
		if _, seen := staged[w.Path]; !seen {
			order = append(order, w.Path)
		}
		staged[w.Path] = next
	}

	changes := make([]firestore.ChangeRecord, 0, len(order))
	for _, path := range order {
		before, after := t.docs[path], staged[path]
		kind, changed := changeKind(before, after)
		if after == nil {
			delete(t.docs, path)
		} else {
			t.docs[path] = after
		}
		if changed {
			changes = append(changes, firestore.ChangeRecord{Kind: kind, Path: path, Document: after.Clone(), CommitTime: commitTime})
		}
	}
	t.lastCommit = commitTime
	t.mu.Unlock()

	t.publish(ctx, changes)
	return &firestore.CommitResult{CommitTime: commitTime}, nil
}

// nextCommitTime keeps commit times strictly increasing so update-time
// preconditions always tell versions apart.
func (t *Transport) nextCommitTime() time.Time {
	now := t.now().UTC()
	if !now.After(t.lastCommit) {
		now = t.lastCommit.Add(time.Microsecond)
	}
	return now
}

func changeKind(before, after *firestore.Document) (firestore.ChangeKind, bool) {
	switch {
	case before == nil && after == nil:
		return "", false
	case before == nil:
		return firestore.ChangeAdded, true
	case after == nil:
		return firestore.ChangeRemoved, true
	}
	return firestore.ChangeModified, true
}

func (t *Transport) publish(ctx context.Context, changes []firestore.ChangeRecord) {
	if len(changes) == 0 {
		return
	}
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	if err := t.bus.Publish(ctx, eventbus.NewBasicEvent(eventbus.EventTypeDocumentsChanged, paths, eventSource)); err != nil {
		t.logger.Warnf("Publishing change notification failed: %v", err)
	}
	if t.recorder != nil {
		if err := t.recorder.Record(ctx, changes); err != nil {
			t.logger.Errorf("Recording %d changes failed: %v", len(changes), err)
		}
	}
}

// Subscribe implements firestore.Transport. Change notifications are coalesced:
// a burst of commits produces one re-evaluation of the target.
func (t *Transport) Subscribe(ctx context.Context, target firestore.Target) (<-chan firestore.WatchEvent, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if target.Query != nil {
		if err := target.Query.Validate(); err != nil {
			return nil, err
		}
	} else if target.DocumentPath == "" {
		return nil, apperrors.NewInvalidArgumentError("target names neither a document nor a query")
	}

	dirty := make(chan struct{}, 1)
	id := t.bus.Subscribe(eventbus.EventTypeDocumentsChanged, func(_ context.Context, ev eventbus.Event) error {
		paths, _ := ev.Data().([]string)
		for _, p := range paths {
			if target.Matches(p) {
				select {
				case dirty <- struct{}{}:
				default:
				}
				return nil
			}
		}
		return nil
	})

	out := make(chan firestore.WatchEvent)
	go func() {
		defer close(out)
		defer t.bus.Unsubscribe(eventbus.EventTypeDocumentsChanged, id)

		var last []*firestore.Document
		first := true
		for {
			ev := t.evaluate(target)
			if ev.Err != nil || first || !sameResult(last, ev.Documents) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-t.ctx.Done():
					return
				}
				if ev.Err != nil {
					return
				}
			}
			first = false
			last = ev.Documents

			select {
			case <-dirty:
			case <-ctx.Done():
				return
			case <-t.ctx.Done():
				return
			}
		}
	}()
	t.logger.Debugf("Subscribed to %s", target.Key())
	return out, nil
}

func (t *Transport) evaluate(target firestore.Target) firestore.WatchEvent {
	if err := t.check(); err != nil {
		return firestore.WatchEvent{Err: err}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev := firestore.WatchEvent{ReadTime: t.now().UTC()}
	if ev.ReadTime.Before(t.lastCommit) {
		ev.ReadTime = t.lastCommit
	}
	if target.Query != nil {
		ev.Documents = t.runQuery(*target.Query)
		return ev
	}
	if doc, ok := t.docs[target.DocumentPath]; ok {
		ev.Documents = []*firestore.Document{doc.Clone()}
	}
	return ev
}

func sameResult(a, b []*firestore.Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Path != b[i].Path || !a[i].UpdateTime.Equal(b[i].UpdateTime) {
			return false
		}
	}
	return true
}

// Documents returns every stored document ordered by path.
func (t *Transport) Documents() []*firestore.Document {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*firestore.Document, 0, len(t.docs))
	for _, d := range t.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Close ends every stream. Later calls fail with UNAVAILABLE.
func (t *Transport) Close() error {
	t.cancel()
	return nil
}
