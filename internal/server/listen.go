package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"firestore-client/internal/auth"
	"firestore-client/internal/rules"
	"firestore-client/internal/shared/contextkeys"
	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/pkg/firestore"
	"firestore-client/pkg/transport/remote"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// listenConn is one listen socket. It multiplexes any number of subscriptions,
// each keyed by the id the client chose.
type listenConn struct {
	s      *Server
	conn   *websocket.Conn
	claims *auth.Claims
	ctx    context.Context

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func (s *Server) listenHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx, cancel := context.WithCancel(context.Background())
		connID := uuid.NewString()
		ctx = context.WithValue(ctx, contextkeys.RequestIDKey, connID)
		ctx = context.WithValue(ctx, contextkeys.ProjectIDKey, conn.Params("project"))

		lc := &listenConn{
			s:      s,
			conn:   conn,
			claims: claimsFrom(conn.Locals(localClaims)),
			ctx:    ctx,
			subs:   make(map[string]context.CancelFunc),
		}
		s.log.WithContext(ctx).Debugf("Listen connection %s opened", connID)

		go lc.keepAlive()
		lc.readLoop()

		cancel()
		lc.wg.Wait()
		s.log.WithContext(ctx).Debugf("Listen connection %s closed", connID)
	})
}

func (lc *listenConn) readLoop() {
	for {
		var req remote.ListenRequest
		if err := lc.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				lc.s.log.Warnf("Listen connection read failed: %v", err)
			}
			return
		}

		switch req.Action {
		case remote.ActionSubscribe:
			lc.subscribe(req)
		case remote.ActionUnsubscribe:
			lc.unsubscribe(req.ID)
		default:
			lc.sendError(req.ID, apperrors.NewInvalidArgumentError("unknown action '"+req.Action+"'"))
		}
	}
}

func (lc *listenConn) subscribe(req remote.ListenRequest) {
	if req.ID == "" || req.Target == nil {
		lc.sendError(req.ID, apperrors.NewInvalidArgumentError("subscribe needs an id and a target"))
		return
	}
	target := *req.Target
	if err := lc.authorizeTarget(target); err != nil {
		lc.sendError(req.ID, err)
		return
	}

	lc.mu.Lock()
	if _, exists := lc.subs[req.ID]; exists {
		lc.mu.Unlock()
		lc.sendError(req.ID, apperrors.NewInvalidArgumentError("subscription id already in use"))
		return
	}
	subCtx, cancel := context.WithCancel(context.WithValue(lc.ctx, contextkeys.ListenerIDKey, req.ID))
	lc.subs[req.ID] = cancel
	lc.mu.Unlock()

	events, err := lc.s.transport.Subscribe(subCtx, target)
	if err != nil {
		lc.remove(req.ID)
		lc.sendError(req.ID, err)
		return
	}

	lc.wg.Add(1)
	go lc.forward(subCtx, req.ID, events)
}

// forward relays one subscription's events until it ends. A stream that ends
// without the client asking is reported as UNAVAILABLE.
func (lc *listenConn) forward(ctx context.Context, id string, events <-chan firestore.WatchEvent) {
	defer lc.wg.Done()
	defer lc.remove(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					lc.sendError(id, apperrors.NewUnavailableError("listen stream closed"))
				}
				return
			}
			if ev.Err != nil {
				lc.sendError(id, ev.Err)
				return
			}
			docs := ev.Documents
			if docs == nil {
				docs = []*firestore.Document{}
			}
			if err := lc.send(remote.ListenMessage{
				Type:      remote.MessageSnapshot,
				ID:        id,
				Documents: docs,
				ReadTime:  ev.ReadTime,
			}); err != nil {
				return
			}
		}
	}
}

func (lc *listenConn) authorizeTarget(target firestore.Target) error {
	if target.Query != nil {
		if err := target.Query.Validate(); err != nil {
			return err
		}
		return lc.s.authorize(lc.ctx, lc.claims, rules.OperationList, target.Query.CollectionPath(), nil, nil)
	}

	path, err := firestore.ParsePath(target.DocumentPath)
	if err != nil {
		return err
	}
	if !path.IsDocument() {
		return apperrors.NewInvalidPathError("listen target is not a document path")
	}
	if lc.s.rules == nil {
		return nil
	}
	var resource firestore.Fields
	doc, err := lc.s.transport.FetchDocument(lc.ctx, path.String())
	switch {
	case err == nil:
		resource = doc.Fields
	case !errors.Is(err, firestore.ErrNotFound):
		return err
	}
	return lc.s.authorize(lc.ctx, lc.claims, rules.OperationGet, path.String(), resource, nil)
}

func (lc *listenConn) unsubscribe(id string) {
	lc.mu.Lock()
	cancel, ok := lc.subs[id]
	lc.mu.Unlock()
	if ok {
		cancel()
	}
}

func (lc *listenConn) remove(id string) {
	lc.mu.Lock()
	if cancel, ok := lc.subs[id]; ok {
		cancel()
		delete(lc.subs, id)
	}
	lc.mu.Unlock()
}

func (lc *listenConn) sendError(id string, err error) {
	_ = lc.send(remote.ListenMessage{Type: remote.MessageError, ID: id, Error: remote.ToAppError(err)})
}

func (lc *listenConn) send(msg remote.ListenMessage) error {
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()
	_ = lc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := lc.conn.WriteJSON(msg); err != nil {
		lc.s.log.Debugf("Listen write failed: %v", err)
		return err
	}
	return nil
}

func (lc *listenConn) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lc.ctx.Done():
			return
		case <-ticker.C:
			lc.writeMu.Lock()
			err := lc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			lc.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
