// Package remote is a Transport that talks to the emulator server over HTTP for
// reads and commits and over one shared WebSocket for subscriptions.
package remote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"firestore-client/internal/config"
	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"

	"github.com/valyala/fasthttp"
)

const (
	defaultTimeout  = 10 * time.Second
	contentTypeJSON = "application/json"
)

// Transport is the client side of the emulator protocol.
type Transport struct {
	host       string
	projectID  string
	databaseID string
	token      string
	useTLS     bool
	timeout    time.Duration

	client *fasthttp.Client
	log    logger.Logger

	mu      sync.Mutex
	session *listenSession

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Transport.
type Option func(*Transport)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(t *Transport) { t.token = token }
}

// WithTLS switches to https and wss.
func WithTLS(enabled bool) Option {
	return func(t *Transport) { t.useTLS = enabled }
}

// WithTimeout bounds each HTTP request when the context has no earlier deadline.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithDatabase selects a database other than (default).
func WithDatabase(databaseID string) Option {
	return func(t *Transport) { t.databaseID = databaseID }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New creates a transport for projectID on the emulator at host ("host:port").
func New(host, projectID string, opts ...Option) (*Transport, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, apperrors.NewInvalidArgumentError("emulator host is required")
	}
	if projectID == "" {
		return nil, apperrors.NewInvalidArgumentError("project id is required")
	}
	t := &Transport{
		host:       host,
		projectID:  projectID,
		databaseID: DefaultDatabaseID,
		timeout:    defaultTimeout,
		log:        logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithComponent("remote_transport")
	t.client = &fasthttp.Client{
		Name:                "firestore-client",
		MaxIdleConnDuration: 30 * time.Second,
		ReadTimeout:         t.timeout,
		WriteTimeout:        t.timeout,
	}
	if t.useTLS {
		t.client.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t, nil
}

// NewFromConfig creates a transport from the FIRESTORE_* client settings. Explicit
// options override the configuration.
func NewFromConfig(cfg *config.ClientConfig, opts ...Option) (*Transport, error) {
	base := []Option{
		WithTimeout(cfg.RequestTimeout),
		WithTLS(cfg.UseTLS),
	}
	if cfg.DatabaseID != "" {
		base = append(base, WithDatabase(cfg.DatabaseID))
	}
	if cfg.AuthToken != "" {
		base = append(base, WithToken(cfg.AuthToken))
	}
	return New(cfg.EmulatorHost, cfg.ProjectID, append(base, opts...)...)
}

func (t *Transport) httpBase() string {
	if t.useTLS {
		return "https://" + t.host
	}
	return "http://" + t.host
}

func (t *Transport) databaseURL() string {
	return t.httpBase() + DatabasePath(t.projectID, t.databaseID)
}

// FetchDocument implements firestore.Transport.
func (t *Transport) FetchDocument(ctx context.Context, path string) (*firestore.Document, error) {
	var doc firestore.Document
	if err := t.do(ctx, fasthttp.MethodGet, t.databaseURL()+DocumentsSuffix+"/"+escapePath(path), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FetchQuery implements firestore.Transport.
func (t *Transport) FetchQuery(ctx context.Context, q firestore.QueryDescriptor) ([]*firestore.Document, error) {
	var resp RunQueryResponse
	if err := t.do(ctx, fasthttp.MethodPost, t.databaseURL()+RunQuerySuffix, q, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// CommitBatch implements firestore.Transport.
func (t *Transport) CommitBatch(ctx context.Context, writes []firestore.Write) (*firestore.CommitResult, error) {
	var result firestore.CommitResult
	if err := t.do(ctx, fasthttp.MethodPost, t.databaseURL()+CommitSuffix, CommitRequest{Writes: writes}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Changes reads the server's change log after since. An empty since starts at the
// beginning.
func (t *Transport) Changes(ctx context.Context, since string, limit int) (*ChangesResponse, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	uri := t.httpBase() + ChangesPath
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}
	var resp ChangesResponse
	if err := t.do(ctx, fasthttp.MethodGet, uri, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the server's health report.
func (t *Transport) Health(ctx context.Context) (map[string]interface{}, error) {
	var report map[string]interface{}
	if err := t.do(ctx, fasthttp.MethodGet, t.httpBase()+HealthPath, nil, &report); err != nil {
		return nil, err
	}
	return report, nil
}

// do performs one request. Connection failures are UNAVAILABLE; error responses
// are rebuilt with the kind the server sent.
func (t *Transport) do(ctx context.Context, method, uri string, body, out interface{}) error {
	if err := t.ctx.Err(); err != nil {
		return apperrors.NewUnavailableError("transport is closed")
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewUnavailableError("request cancelled").WithCause(err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, contentTypeJSON)
	if t.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+t.token)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInvalidArgumentError("cannot encode request").WithCause(err)
		}
		req.Header.SetContentType(contentTypeJSON)
		req.SetBodyRaw(data)
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.client.DoDeadline(req, resp, deadline); err != nil {
		t.log.Debugf("%s %s failed: %v", method, uri, err)
		return apperrors.NewUnavailableError("emulator at " + t.host + " is unreachable").WithCause(err)
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusBadRequest {
		return decodeError(status, resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperrors.NewInternalError("malformed response").WithCause(err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != nil && eb.Error.Type != "" {
		eb.Error.HTTPCode = status
		return eb.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "HTTP " + strconv.Itoa(status)
	}
	appErr := apperrors.NewAppError(apperrors.TypeFromHTTPStatus(status), msg)
	appErr.HTTPCode = status
	return appErr
}

func escapePath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Close ends every subscription. Later calls fail with UNAVAILABLE.
func (t *Transport) Close() error {
	t.cancel()
	t.mu.Lock()
	s := t.session
	t.session = nil
	t.mu.Unlock()
	if s != nil {
		s.close(apperrors.NewUnavailableError("transport is closed"))
	}
	t.client.CloseIdleConnections()
	return nil
}
