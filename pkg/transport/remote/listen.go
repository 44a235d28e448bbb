package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/pkg/firestore"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

const (
	handshakeTimeout = 10 * time.Second
	pongWait         = 75 * time.Second
)

// Subscribe implements firestore.Transport. All subscriptions of a transport share
// one socket; when it drops, every open stream ends with UNAVAILABLE and the next
// Subscribe dials again.
func (t *Transport) Subscribe(ctx context.Context, target firestore.Target) (<-chan firestore.WatchEvent, error) {
	if target.Query != nil {
		if err := target.Query.Validate(); err != nil {
			return nil, err
		}
	} else if target.DocumentPath == "" {
		return nil, apperrors.NewInvalidArgumentError("target names neither a document nor a query")
	}

	s, err := t.listenSession(ctx)
	if err != nil {
		return nil, err
	}

	st := &stream{
		id:     uuid.NewString(),
		out:    make(chan firestore.WatchEvent),
		notify: make(chan struct{}, 1),
	}
	if !s.add(st) {
		return nil, apperrors.NewUnavailableError("listen connection closed")
	}
	if err := s.send(ListenRequest{Action: ActionSubscribe, ID: st.id, Target: &target}); err != nil {
		s.remove(st.id)
		s.close(apperrors.NewUnavailableError("listen connection lost").WithCause(err))
		return nil, apperrors.NewUnavailableError("cannot send subscription").WithCause(err)
	}
	go st.run(ctx, s)
	t.log.Debugf("Subscribed %s to %s", st.id, target.Key())
	return st.out, nil
}

// listenSession returns the open session, dialing a new one when needed.
func (t *Transport) listenSession(ctx context.Context) (*listenSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return nil, apperrors.NewUnavailableError("transport is closed")
	}
	if t.session != nil && !t.session.isClosed() {
		return t.session, nil
	}

	scheme := "ws://"
	if t.useTLS {
		scheme = "wss://"
	}
	uri := scheme + t.host + DatabasePath(t.projectID, t.databaseID) + ListenSuffix
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	conn, resp, err := dialer.DialContext(ctx, uri, header)
	if err != nil {
		if resp != nil {
			status := resp.StatusCode
			_ = resp.Body.Close()
			return nil, apperrors.NewAppError(apperrors.TypeFromHTTPStatus(status), "listen handshake rejected").WithCause(err)
		}
		return nil, apperrors.NewUnavailableError("emulator at " + t.host + " is unreachable").WithCause(err)
	}

	s := &listenSession{
		conn:    conn,
		streams: make(map[string]*stream),
	}
	go s.readLoop(t)
	t.session = s
	return s, nil
}

// listenSession is one socket and the streams multiplexed over it.
type listenSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

func (s *listenSession) readLoop(t *Transport) {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(handshakeTimeout))
	})

	for {
		var msg ListenMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.isClosed() {
				t.log.Warnf("Listen connection lost: %v", err)
			}
			s.close(apperrors.NewUnavailableError("listen connection lost").WithCause(err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		s.mu.Lock()
		st := s.streams[msg.ID]
		s.mu.Unlock()
		if st == nil {
			continue
		}

		switch msg.Type {
		case MessageSnapshot:
			st.offer(firestore.WatchEvent{Documents: msg.Documents, ReadTime: msg.ReadTime})
		case MessageError:
			var err error = apperrors.NewInternalError("listen error without details")
			if msg.Error != nil {
				err = msg.Error
			}
			st.offer(firestore.WatchEvent{Err: err})
		default:
			t.log.Debugf("Ignoring listen message of type %q", msg.Type)
		}
	}
}

func (s *listenSession) add(st *stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams[st.id] = st
	return true
}

func (s *listenSession) remove(id string) {
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
}

func (s *listenSession) send(req ListenRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return s.conn.WriteJSON(req)
}

func (s *listenSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close ends the session and every stream on it with err.
func (s *listenSession) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	streams := s.streams
	s.streams = make(map[string]*stream)
	s.mu.Unlock()

	for _, st := range streams {
		st.offer(firestore.WatchEvent{Err: err})
	}
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = s.conn.Close()
}

// stream is one subscription. Only the latest pending snapshot is kept, so a
// slow consumer skips intermediate states instead of stalling the socket.
type stream struct {
	id     string
	out    chan firestore.WatchEvent
	notify chan struct{}

	mu      sync.Mutex
	pending *firestore.WatchEvent
	failed  bool
}

func (st *stream) offer(ev firestore.WatchEvent) {
	st.mu.Lock()
	if st.failed {
		st.mu.Unlock()
		return
	}
	if ev.Err != nil {
		st.failed = true
	}
	st.pending = &ev
	st.mu.Unlock()

	select {
	case st.notify <- struct{}{}:
	default:
	}
}

func (st *stream) take() *firestore.WatchEvent {
	st.mu.Lock()
	defer st.mu.Unlock()
	ev := st.pending
	st.pending = nil
	return ev
}

func (st *stream) run(ctx context.Context, s *listenSession) {
	defer close(st.out)
	defer func() {
		s.remove(st.id)
		if !s.isClosed() {
			_ = s.send(ListenRequest{Action: ActionUnsubscribe, ID: st.id})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.notify:
		}
		ev := st.take()
		if ev == nil {
			continue
		}
		select {
		case st.out <- *ev:
		case <-ctx.Done():
			return
		}
		if ev.Err != nil {
			return
		}
	}
}
