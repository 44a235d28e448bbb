package firestore

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"firestore-client/internal/shared/contextkeys"
	apperrors "firestore-client/internal/shared/errors"
	resource "firestore-client/internal/shared/firestore"
)

// Config is the explicit client configuration.
type Config struct {
	ProjectID string
	// DatabaseID defaults to "(default)".
	DatabaseID string
	// Settings defaults to DefaultSettings().
	Settings *Settings
	// Logger defaults to a logrus logger configured from the environment.
	Logger Logger
}

// Client is the entry point of the API. It owns the snapshot cache and the
// listener dispatcher and sends everything else through its Transport.
// A Client is safe for concurrent use.
type Client struct {
	projectID  string
	databaseID string
	transport  Transport
	logger     Logger

	ctx    context.Context
	cancel context.CancelFunc

	settingsMu sync.Mutex
	settings   Settings
	used       atomic.Bool
	closed     atomic.Bool

	cache     *snapshotCache
	network   *networkState
	listeners sync.Map // listener id -> *ListenerRegistration

	// writeMu keeps commits in issuance order on their way to the transport.
	writeMu sync.Mutex
	pending sync.Map // document path -> *atomic.Int32 of commits in flight
}

// New creates a client that talks through t.
func New(ctx context.Context, cfg Config, t Transport) (*Client, error) {
	if t == nil {
		return nil, apperrors.NewInvalidArgumentError("transport is required")
	}
	if !resource.IsValidID(cfg.ProjectID) {
		return nil, apperrors.NewInvalidArgumentError("invalid project id").WithDetail("project_id", cfg.ProjectID)
	}
	if cfg.DatabaseID == "" {
		cfg.DatabaseID = resource.DefaultDatabaseID
	}
	if !resource.IsValidID(cfg.DatabaseID) {
		return nil, apperrors.NewInvalidArgumentError("invalid database id").WithDetail("database_id", cfg.DatabaseID)
	}
	settings := DefaultSettings()
	if cfg.Settings != nil {
		settings = *cfg.Settings
	}
	if cfg.Logger == nil {
		cfg.Logger = NewLogrusLogger(nil)
	}

	base := context.WithValue(context.Background(), contextkeys.ProjectIDKey, cfg.ProjectID)
	base = context.WithValue(base, contextkeys.DatabaseIDKey, cfg.DatabaseID)
	rootCtx, cancel := context.WithCancel(base)

	c := &Client{
		projectID:  cfg.ProjectID,
		databaseID: cfg.DatabaseID,
		transport:  t,
		logger:     cfg.Logger.WithComponent("firestore"),
		ctx:        rootCtx,
		cancel:     cancel,
		settings:   settings,
		cache:      newSnapshotCache(settings.Persistence),
		network:    newNetworkState(),
	}
	c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"project_id":  c.projectID,
		"database_id": c.databaseID,
	}).Debug("Client created")
	return c, nil
}

func (c *Client) ProjectID() string  { return c.projectID }
func (c *Client) DatabaseID() string { return c.databaseID }

// Collection returns a reference to the collection at path.
func (c *Client) Collection(path string) (*CollectionReference, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if !p.IsCollection() {
		return nil, apperrors.NewInvalidPathError("collection path must have an odd number of segments").
			WithDetail("path", p.String())
	}
	return c.newCollectionRef(p), nil
}

// Doc returns a reference to the document at path.
func (c *Client) Doc(path string) (*DocumentReference, error) {
	return c.docRef(path)
}

// CollectionGroup queries every collection named collectionID, at any depth.
func (c *Client) CollectionGroup(collectionID string) Query {
	q := Query{c: c, collectionID: collectionID, allDescendants: true}
	if strings.Contains(collectionID, "/") {
		return q.fail(apperrors.NewInvalidPathError("collection group id cannot contain '/'").
			WithDetail("collection_id", collectionID))
	}
	if err := resource.ValidateSegment(collectionID); err != nil {
		return q.fail(err)
	}
	return q
}

// Batch starts an empty write batch.
func (c *Client) Batch() *WriteBatch {
	return &WriteBatch{c: c}
}

// Settings replaces the client settings. It fails with FAILED_PRECONDITION once
// the client has performed any read, write or listen.
func (c *Client) Settings(s Settings) error {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()
	if c.used.Load() {
		return apperrors.NewFailedPreconditionError("settings can only be changed before the first operation")
	}
	c.settings = s
	c.cache.setEnabled(s.Persistence)
	return nil
}

// CurrentSettings returns the settings in effect.
func (c *Client) CurrentSettings() Settings {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()
	return c.settings
}

// DisableNetwork forces cache-only mode. Reads are served from the cache, writes
// fail with UNAVAILABLE and listeners get their cached snapshot.
func (c *Client) DisableNetwork(ctx context.Context) error {
	if err := c.beginOperation(); err != nil {
		return err
	}
	if c.network.set(false) {
		c.logger.WithContext(ctx).Info("Network disabled")
	}
	return nil
}

// EnableNetwork leaves cache-only mode and re-attaches listener streams.
func (c *Client) EnableNetwork(ctx context.Context) error {
	if err := c.beginOperation(); err != nil {
		return err
	}
	if c.network.set(true) {
		c.logger.WithContext(ctx).Info("Network enabled")
	}
	return nil
}

// Close removes every listener and closes the transport.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.listeners.Range(func(_, v interface{}) bool {
		v.(*ListenerRegistration).Remove()
		return true
	})
	c.cancel()
	c.logger.Debug("Client closed")
	return c.transport.Close()
}

// beginOperation marks the client as used and rejects work after Close.
func (c *Client) beginOperation() error {
	if c == nil {
		return apperrors.NewInvalidArgumentError("reference is not bound to a client")
	}
	if c.closed.Load() {
		return apperrors.NewFailedPreconditionError("client is closed")
	}
	if !c.used.Load() {
		c.settingsMu.Lock()
		c.used.Store(true)
		c.settingsMu.Unlock()
	}
	return nil
}

func (c *Client) docRef(path string) (*DocumentReference, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if !p.IsDocument() {
		return nil, apperrors.NewInvalidPathError("document path must have an even number of segments").
			WithDetail("path", p.String())
	}
	return &DocumentReference{c: c, path: p}, nil
}

func (c *Client) newCollectionRef(p Path) *CollectionReference {
	return &CollectionReference{
		Query: Query{c: c, parent: p.Parent(), collectionID: p.LastSegment()},
		path:  p,
	}
}

// referenceOf turns a stored reference path into a *DocumentReference.
func (c *Client) referenceOf(path string) interface{} {
	ref, err := c.docRef(path)
	if err != nil {
		return path
	}
	return ref
}

func (c *Client) opContext(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, contextkeys.OperationKey, op)
}

func (c *Client) getDocument(ctx context.Context, ref *DocumentReference, opts GetOptions) (*DocumentSnapshot, error) {
	if err := c.beginOperation(); err != nil {
		return nil, err
	}
	ctx = c.opContext(ctx, "get_document")
	path := ref.Path()
	log := c.logger.WithContext(ctx).WithFields(map[string]interface{}{"path": path, "source": opts.Source.String()})

	fromCache := func() (*DocumentSnapshot, bool) {
		cd, ok := c.cache.document(path)
		if !ok {
			return nil, false
		}
		meta := SnapshotMetadata{FromCache: true, HasPendingWrites: c.hasPendingWrites(path)}
		return newDocumentSnapshot(ref, cd.doc, cd.readTime, meta), true
	}

	online, _ := c.network.state()
	switch {
	case opts.Source == SourceCache:
		if snap, ok := fromCache(); ok {
			return snap, nil
		}
		return nil, apperrors.NewNotFoundError("document " + path + " in cache")
	case !online && opts.Source == SourceServer:
		return nil, apperrors.NewUnavailableError("network is disabled")
	case !online:
		if snap, ok := fromCache(); ok {
			return snap, nil
		}
		return nil, apperrors.NewUnavailableError("network is disabled and the document is not cached")
	}

	// Stamp before the fetch so a result that races a commit counts as stale.
	readTime := time.Now().UTC()
	doc, err := c.transport.FetchDocument(ctx, path)
	switch {
	case err == nil:
	case apperrors.IsNotFound(err):
		doc = nil
	case apperrors.IsUnavailable(err) && opts.Source == SourceDefault:
		if snap, ok := fromCache(); ok {
			log.Warnf("Transport unavailable, serving cached document: %v", err)
			return snap, nil
		}
		return nil, err
	default:
		log.Errorf("Fetch document failed: %v", err)
		return nil, err
	}

	c.cache.putDocument(path, doc, readTime)
	log.Debug("Fetched document")
	return newDocumentSnapshot(ref, doc, readTime, SnapshotMetadata{}), nil
}

func (c *Client) getQuery(ctx context.Context, q Query, opts GetOptions) (*QuerySnapshot, error) {
	desc, err := q.Descriptor()
	if err != nil {
		return nil, err
	}
	if err := c.beginOperation(); err != nil {
		return nil, err
	}
	ctx = c.opContext(ctx, "run_query")
	log := c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"collection": desc.CollectionPath(),
		"source":     opts.Source.String(),
	})

	fromCache := func(emptyOnMiss bool) (*QuerySnapshot, bool) {
		cq, ok := c.cache.query(desc.Fingerprint())
		if !ok {
			if !emptyOnMiss {
				return nil, false
			}
			return newQuerySnapshot(q, nil, nil, time.Now().UTC(), SnapshotMetadata{FromCache: true}), true
		}
		return newQuerySnapshot(q, cq.docs, nil, cq.readTime, SnapshotMetadata{FromCache: true}), true
	}

	online, _ := c.network.state()
	switch {
	case opts.Source == SourceCache, !online && opts.Source == SourceDefault:
		snap, _ := fromCache(true)
		return snap, nil
	case !online:
		return nil, apperrors.NewUnavailableError("network is disabled")
	}

	readTime := time.Now().UTC()
	docs, err := c.transport.FetchQuery(ctx, desc)
	if err != nil {
		if apperrors.IsUnavailable(err) && opts.Source == SourceDefault {
			if snap, ok := fromCache(false); ok {
				log.Warnf("Transport unavailable, serving cached query: %v", err)
				return snap, nil
			}
		}
		log.Errorf("Query failed: %v", err)
		return nil, err
	}

	c.cache.putQuery(desc, docs, readTime)
	log.Debugf("Query returned %d documents", len(docs))
	return newQuerySnapshot(q, docs, nil, readTime, SnapshotMetadata{}), nil
}

// commit sends writes to the transport and invalidates the cache entries they
// touch once the transport acknowledges them.
func (c *Client) commit(ctx context.Context, writes []Write) (*CommitResult, error) {
	if err := c.beginOperation(); err != nil {
		return nil, err
	}
	ctx = c.opContext(ctx, "commit")
	if online, _ := c.network.state(); !online {
		return nil, apperrors.NewUnavailableError("network is disabled")
	}

	paths := make([]string, len(writes))
	for i, w := range writes {
		paths[i] = w.Path
	}
	c.markPending(paths, 1)
	defer c.markPending(paths, -1)

	c.writeMu.Lock()
	res, err := c.transport.CommitBatch(ctx, writes)
	c.writeMu.Unlock()

	log := c.logger.WithContext(ctx).WithFields(map[string]interface{}{"writes": len(writes)})
	if err != nil {
		log.Errorf("Commit failed: %v", err)
		return nil, err
	}
	var commitTime time.Time
	if res != nil {
		commitTime = res.CommitTime
	}
	c.cache.invalidate(paths, commitTime)
	log.Debug("Commit acknowledged")
	return res, nil
}

func (c *Client) markPending(paths []string, delta int32) {
	for _, p := range paths {
		v, _ := c.pending.LoadOrStore(p, new(atomic.Int32))
		v.(*atomic.Int32).Add(delta)
	}
}

func (c *Client) hasPendingWrites(path string) bool {
	v, ok := c.pending.Load(path)
	return ok && v.(*atomic.Int32).Load() > 0
}

// networkState is the enable/disable switch. Every change closes the current
// changed channel so waiting listeners wake up.
type networkState struct {
	mu      sync.Mutex
	enabled bool
	changed chan struct{}
}

func newNetworkState() *networkState {
	return &networkState{enabled: true, changed: make(chan struct{})}
}

func (n *networkState) state() (bool, <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled, n.changed
}

// set reports whether the state changed.
func (n *networkState) set(enabled bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.enabled == enabled {
		return false
	}
	n.enabled = enabled
	close(n.changed)
	n.changed = make(chan struct{})
	return true
}
