package mongostore

import (
	"context"
	"time"

	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/pkg/firestore"

	"go.mongodb.org/mongo-driver/mongo"
)

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// Subscribe implements firestore.Transport. The change stream is opened before
// the first read so no commit falls between the two. Without change streams
// (a standalone server) the target is polled instead.
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

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-t.ctx.Done():
			cancel()
		case <-subCtx.Done():
		}
	}()

	stream, err := t.coll.Watch(subCtx, mongo.Pipeline{})
	if err != nil {
		if subCtx.Err() != nil || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
			cancel()
			return nil, storeError("failed to open change stream", err)
		}
		t.log.Warnf("Change streams unavailable, polling %s every %s: %v", target.Key(), t.pollInterval, err)
		stream = nil
	}

	out := make(chan firestore.WatchEvent)
	go func() {
		defer cancel()
		defer close(out)
		if stream != nil {
			defer stream.Close(context.Background())
		}
		w := &watcher{t: t, target: target, out: out}
		if !w.emit(subCtx, true) {
			return
		}
		if stream != nil {
			w.follow(subCtx, stream)
		} else {
			w.poll(subCtx)
		}
	}()
	t.log.Debugf("Subscribed to %s", target.Key())
	return out, nil
}

type watcher struct {
	t      *Transport
	target firestore.Target
	out    chan<- firestore.WatchEvent
	last   []*firestore.Document
}

func (w *watcher) follow(ctx context.Context, stream *mongo.ChangeStream) {
	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			w.t.log.Warnf("Skipping undecodable change event: %v", err)
			continue
		}
		if ev.OperationType == "invalidate" || ev.OperationType == "drop" {
			w.fail(ctx, apperrors.NewUnavailableError("change stream invalidated by "+ev.OperationType))
			return
		}
		if !w.target.Matches(ev.DocumentKey.ID) {
			continue
		}
		if !w.emit(ctx, false) {
			return
		}
	}
	if ctx.Err() == nil {
		w.fail(ctx, storeError("change stream ended", stream.Err()))
	}
}

func (w *watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.emit(ctx, false) {
				return
			}
		}
	}
}

// emit reads the target and delivers it when it differs from the last delivery.
// It reports whether the stream should continue.
func (w *watcher) emit(ctx context.Context, force bool) bool {
	ev := w.read(ctx)
	if ev.Err != nil {
		if ctx.Err() == nil {
			w.fail(ctx, ev.Err)
		}
		return false
	}
	if !force && sameResult(w.last, ev.Documents) {
		return true
	}
	select {
	case w.out <- ev:
		w.last = ev.Documents
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *watcher) read(ctx context.Context) firestore.WatchEvent {
	readTime := time.Now().UTC()
	if w.target.Query != nil {
		docs, err := w.t.FetchQuery(ctx, *w.target.Query)
		return firestore.WatchEvent{Documents: docs, ReadTime: readTime, Err: err}
	}
	doc, err := w.t.FetchDocument(ctx, w.target.DocumentPath)
	switch {
	case err == nil:
		return firestore.WatchEvent{Documents: []*firestore.Document{doc}, ReadTime: readTime}
	case apperrors.IsNotFound(err):
		return firestore.WatchEvent{ReadTime: readTime}
	}
	return firestore.WatchEvent{Err: err}
}

func (w *watcher) fail(ctx context.Context, err error) {
	select {
	case w.out <- firestore.WatchEvent{Err: err}:
	case <-ctx.Done():
	}
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
