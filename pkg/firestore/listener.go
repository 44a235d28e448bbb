package firestore

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"firestore-client/internal/shared/contextkeys"
	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/internal/shared/logger"

	"github.com/google/uuid"
)

// ListenerState is the lifecycle state of a snapshot listener.
type ListenerState int32

const (
	// ListenerPending has not delivered a snapshot yet.
	ListenerPending ListenerState = iota
	// ListenerActive has delivered at least one snapshot.
	ListenerActive
	// ListenerCancelled will never invoke a callback again.
	ListenerCancelled
)

func (s ListenerState) String() string {
	switch s {
	case ListenerPending:
		return "pending"
	case ListenerActive:
		return "active"
	}
	return "cancelled"
}

// ListenerRegistration controls one OnSnapshot subscription.
type ListenerRegistration struct {
	id     string
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	// invokeMu is held from the state check until the callback returns.
	invokeMu sync.Mutex
	// dispatcher is the id of the goroutine that runs the callbacks.
	dispatcher atomic.Uint64
}

func (r *ListenerRegistration) ID() string { return r.id }

func (r *ListenerRegistration) State() ListenerState {
	return ListenerState(r.state.Load())
}

// Done is closed once the subscription goroutine has exited.
func (r *ListenerRegistration) Done() <-chan struct{} { return r.done }

// Remove cancels the subscription. It may be called any number of times, from
// any goroutine, including from inside a callback. Once it returns no callback
// of this subscription runs: called from another goroutine it waits for a
// callback in progress to return.
func (r *ListenerRegistration) Remove() {
	if ListenerState(r.state.Swap(int32(ListenerCancelled))) == ListenerCancelled {
		return
	}
	r.cancel()
	if r.dispatcher.Load() == goroutineID() {
		return
	}
	r.invokeMu.Lock()
	r.invokeMu.Unlock()
}

// invoke runs fn unless the subscription is cancelled.
func (r *ListenerRegistration) invoke(fn func()) bool {
	r.invokeMu.Lock()
	defer r.invokeMu.Unlock()
	if r.State() == ListenerCancelled {
		return false
	}
	r.state.CompareAndSwap(int32(ListenerPending), int32(ListenerActive))
	fn()
	return true
}

// goroutineID parses the current goroutine id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// deliverFunc turns transport documents into a snapshot and invokes the callback
// through reg.
type deliverFunc func(reg *ListenerRegistration, docs []*Document, readTime time.Time, fromCache bool)

// listener is the dispatcher side of a registration. All deliveries of one
// listener happen on its own goroutine, in stream order.
type listener struct {
	c       *Client
	reg     *ListenerRegistration
	ctx     context.Context
	target  Target
	deliver deliverFunc
	onError func(error)
	logger  logger.Logger
}

func (c *Client) startListener(target Target, deliver deliverFunc, onError func(error)) (*ListenerRegistration, error) {
	if err := c.beginOperation(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(c.ctx, contextkeys.ListenerIDKey, id))
	reg := &ListenerRegistration{id: id, cancel: cancel, done: make(chan struct{})}
	l := &listener{
		c:       c,
		reg:     reg,
		ctx:     ctx,
		target:  target,
		deliver: deliver,
		onError: onError,
		logger:  c.logger.WithContext(ctx).WithFields(map[string]interface{}{"target": target.Key()}),
	}

	c.listeners.Store(id, reg)
	go l.run()
	l.logger.Debug("Listener registered")
	return reg, nil
}

func (l *listener) run() {
	l.reg.dispatcher.Store(goroutineID())
	defer func() {
		l.c.listeners.Delete(l.reg.id)
		close(l.reg.done)
	}()

	for {
		if l.ctx.Err() != nil {
			return
		}
		online, changed := l.c.network.state()
		if !online {
			l.deliverCached()
			select {
			case <-l.ctx.Done():
				return
			case <-changed:
				continue
			}
		}

		attachCtx, detach := context.WithCancel(l.ctx)
		stream, err := l.c.transport.Subscribe(attachCtx, l.target)
		if err != nil {
			detach()
			if l.ctx.Err() == nil {
				l.fail(err)
			}
			return
		}
		reattach := l.pump(stream, changed)
		detach()
		if !reattach {
			return
		}
		l.logger.Debug("Network state changed, detaching stream")
	}
}

// pump delivers stream events until the subscription ends or the network state
// changes. It reports whether the stream should be attached again.
func (l *listener) pump(stream <-chan WatchEvent, changed <-chan struct{}) bool {
	for {
		select {
		case <-l.ctx.Done():
			return false
		case <-changed:
			return true
		case ev, ok := <-stream:
			if !ok {
				if l.ctx.Err() == nil {
					l.fail(apperrors.NewUnavailableError("watch stream closed"))
				}
				return false
			}
			if ev.Err != nil {
				l.fail(ev.Err)
				return false
			}
			l.deliver(l.reg, ev.Documents, ev.ReadTime, false)
		}
	}
}

func (l *listener) deliverCached() {
	if l.target.Query != nil {
		if cq, ok := l.c.cache.query(l.target.Query.Fingerprint()); ok {
			l.deliver(l.reg, cq.docs, cq.readTime, true)
		}
		return
	}
	if cd, ok := l.c.cache.document(l.target.DocumentPath); ok {
		var docs []*Document
		if cd.doc != nil {
			docs = []*Document{cd.doc}
		}
		l.deliver(l.reg, docs, cd.readTime, true)
	}
}

// fail reports err once and ends the subscription.
func (l *listener) fail(err error) {
	l.logger.Errorf("Listener failed: %v", err)
	if l.onError != nil {
		l.reg.invoke(func() { l.onError(err) })
	}
	l.reg.state.Store(int32(ListenerCancelled))
	l.reg.cancel()
}

func (c *Client) listenDocument(ref *DocumentReference, onNext func(*DocumentSnapshot), onError func(error)) (*ListenerRegistration, error) {
	if onNext == nil {
		return nil, apperrors.NewInvalidArgumentError("OnSnapshot needs a callback")
	}
	path := ref.Path()
	deliver := func(reg *ListenerRegistration, docs []*Document, readTime time.Time, fromCache bool) {
		var doc *Document
		if len(docs) > 0 {
			doc = docs[0]
		}
		if !fromCache {
			c.cache.putDocument(path, doc, readTime)
		}
		snap := newDocumentSnapshot(ref, doc, readTime, SnapshotMetadata{FromCache: fromCache})
		reg.invoke(func() { onNext(snap) })
	}
	return c.startListener(Target{DocumentPath: path}, deliver, onError)
}

func (c *Client) listenQuery(q Query, onNext func(*QuerySnapshot), onError func(error)) (*ListenerRegistration, error) {
	if onNext == nil {
		return nil, apperrors.NewInvalidArgumentError("OnSnapshot needs a callback")
	}
	desc, err := q.Descriptor()
	if err != nil {
		return nil, err
	}
	var prev []*DocumentSnapshot
	deliver := func(reg *ListenerRegistration, docs []*Document, readTime time.Time, fromCache bool) {
		if !fromCache {
			c.cache.putQuery(desc, docs, readTime)
		}
		snap := newQuerySnapshot(q, docs, prev, readTime, SnapshotMetadata{FromCache: fromCache})
		prev = snap.Docs
		reg.invoke(func() { onNext(snap) })
	}
	return c.startListener(Target{Query: &desc}, deliver, onError)
}
