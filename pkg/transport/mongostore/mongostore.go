// Package mongostore is a Transport backed by MongoDB. Documents of every
// collection live in one MongoDB collection keyed by their path; commits run in a
// multi-document transaction and subscriptions follow a change stream.
package mongostore

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultCollection holds the documents unless WithCollection says otherwise.
	DefaultCollection = "documents"

	defaultPollInterval = time.Second
	connectTimeout      = 10 * time.Second
)

// Transport stores documents in a MongoDB collection.
type Transport struct {
	client   *mongo.Client
	ownsConn bool
	coll     *mongo.Collection

	recorder     firestore.ChangeRecorder
	log          logger.Logger
	now          func() time.Time
	pollInterval time.Duration
	collName     string

	commitMu   sync.Mutex
	lastCommit time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithChangeRecorder records every committed change.
func WithChangeRecorder(r firestore.ChangeRecorder) Option {
	return func(t *Transport) { t.recorder = r }
}

// WithCollection stores documents in a collection other than DefaultCollection.
func WithCollection(name string) Option {
	return func(t *Transport) { t.collName = name }
}

// WithPollInterval sets how often subscriptions re-read their target when the
// server offers no change streams (a standalone mongod).
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// Connect dials uri and opens a transport on database. Close disconnects.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Transport, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperrors.NewUnavailableError("failed to connect to MongoDB").WithCause(err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, apperrors.NewUnavailableError("failed to ping MongoDB").WithCause(err)
	}
	t, err := New(ctx, client.Database(database), opts...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	t.ownsConn = true
	return t, nil
}

// New opens a transport on an existing database handle and creates its indexes.
func New(ctx context.Context, db *mongo.Database, opts ...Option) (*Transport, error) {
	t := &Transport{
		client:       db.Client(),
		log:          logger.NewNopLogger(),
		now:          time.Now,
		pollInterval: defaultPollInterval,
		collName:     DefaultCollection,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithComponent("mongo_transport")
	t.coll = db.Collection(t.collName)
	if err := t.createIndexes(ctx); err != nil {
		return nil, err
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t, nil
}

func (t *Transport) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "collectionId", Value: 1}}},
		{Keys: bson.D{{Key: "collectionId", Value: 1}}},
	}
	if _, err := t.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return storeError("failed to create indexes", err)
	}
	return nil
}

// storeError classifies a driver error: connectivity problems are UNAVAILABLE,
// the rest INTERNAL.
func storeError(msg string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewUnavailableError(msg).WithCause(err)
	}
	return apperrors.NewInternalError(msg).WithCause(err)
}

func (t *Transport) check() error {
	if t.ctx.Err() != nil {
		return apperrors.NewUnavailableError("transport is closed")
	}
	return nil
}

// FetchDocument implements firestore.Transport.
func (t *Transport) FetchDocument(ctx context.Context, path string) (*firestore.Document, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.findOne(ctx, path)
}

func (t *Transport) findOne(ctx context.Context, path string) (*firestore.Document, error) {
	var rec record
	err := t.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewNotFoundError("document " + path)
	}
	if err != nil {
		return nil, storeError("failed to read document", err)
	}
	return rec.document()
}

// FetchQuery implements firestore.Transport. MongoDB narrows the candidates to
// the queried collection; filters, ordering, cursors and limits are evaluated by
// the descriptor so every backend agrees on results.
func (t *Transport) FetchQuery(ctx context.Context, q firestore.QueryDescriptor) ([]*firestore.Document, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	cursor, err := t.coll.Find(ctx, candidateFilter(q))
	if err != nil {
		return nil, storeError("failed to run query", err)
	}
	defer cursor.Close(ctx)

	candidates := make([]*firestore.Document, 0)
	for cursor.Next(ctx) {
		var rec record
		if err := cursor.Decode(&rec); err != nil {
			return nil, storeError("failed to decode document", err)
		}
		doc, err := rec.document()
		if err != nil {
			return nil, err
		}
		if q.Contains(doc.Path) {
			candidates = append(candidates, doc)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, storeError("failed to run query", err)
	}
	return q.Apply(candidates), nil
}

func candidateFilter(q firestore.QueryDescriptor) bson.M {
	filter := bson.M{"collectionId": q.CollectionID}
	switch {
	case !q.AllDescendants:
		filter["parent"] = q.Parent
	case q.Parent != "":
		filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(q.Parent) + "/"}
	}
	return filter
}

// CommitBatch applies writes in one MongoDB transaction. The deployment must be a
// replica set.
func (t *Transport) CommitBatch(ctx context.Context, writes []firestore.Write) (*firestore.CommitResult, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}

	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	commitTime := t.nextCommitTime()

	session, err := t.client.StartSession()
	if err != nil {
		return nil, storeError("failed to start session", err)
	}
	defer session.EndSession(ctx)

	var changes []firestore.ChangeRecord
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		changes = changes[:0]
		return nil, t.applyWrites(sc, writes, commitTime, &changes)
	})
	if err != nil {
		t.log.Debugf("Commit of %d writes failed: %v", len(writes), err)
		return nil, storeError("commit failed", err)
	}
	t.lastCommit = commitTime

	if t.recorder != nil && len(changes) > 0 {
		if err := t.recorder.Record(ctx, changes); err != nil {
			t.log.Errorf("Recording %d changes failed: %v", len(changes), err)
		}
	}
	return &firestore.CommitResult{CommitTime: commitTime}, nil
}

// applyWrites stages every write against the stored state, then persists the
// final state of each touched document.
func (t *Transport) applyWrites(sc mongo.SessionContext, writes []firestore.Write, commitTime time.Time, changes *[]firestore.ChangeRecord) error {
	before := make(map[string]*firestore.Document)
	staged := make(map[string]*firestore.Document)
	var order []string

	for _, w := range writes {
		existing, seen := staged[w.Path]
		if !seen {
			if _, loaded := before[w.Path]; !loaded {
				doc, err := t.findOne(sc, w.Path)
				switch {
				case err == nil:
				case errors.Is(err, firestore.ErrNotFound):
					doc = nil
				default:
					return err
				}
				before[w.Path] = doc
			}
			existing = before[w.Path]
		}

		next, err := w.Apply(existing, commitTime)
		if err != nil {
			return err
		}
		if w.Kind == firestore.WriteVerify {
			continue
		}
		if !seen {
			order = append(order, w.Path)
		}
		staged[w.Path] = next
	}

	for _, path := range order {
		prev, next := before[path], staged[path]
		var kind firestore.ChangeKind
		switch {
		case next == nil && prev == nil:
			continue
		case next == nil:
			kind = firestore.ChangeRemoved
			if _, err := t.coll.DeleteOne(sc, bson.M{"_id": path}); err != nil {
				return err
			}
		default:
			kind = firestore.ChangeModified
			if prev == nil {
				kind = firestore.ChangeAdded
			}
			opts := options.Replace().SetUpsert(true)
			if _, err := t.coll.ReplaceOne(sc, bson.M{"_id": path}, toRecord(next), opts); err != nil {
				return err
			}
		}
		*changes = append(*changes, firestore.ChangeRecord{Kind: kind, Path: path, Document: next.Clone(), CommitTime: commitTime})
	}
	return nil
}

// nextCommitTime must be called with commitMu held.
func (t *Transport) nextCommitTime() time.Time {
	now := t.now().UTC()
	if !now.After(t.lastCommit) {
		now = t.lastCommit.Add(time.Microsecond)
	}
	return now
}

// Close ends every subscription and, for transports made by Connect, disconnects.
func (t *Transport) Close() error {
	t.cancel()
	if t.ownsConn {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.client.Disconnect(ctx)
	}
	return nil
}
