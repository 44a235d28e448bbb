package firestore

import (
	"context"
	"time"
)

// Transport is the boundary to the store. The client never talks to storage or the
// network directly; everything goes through one of these.
//
// Implementations must return errors of this package's kinds: NOT_FOUND for a
// missing document, UNAVAILABLE when the store cannot be reached, ABORTED when a
// commit precondition fails.
type Transport interface {
	// FetchDocument returns the current state of one document.
	FetchDocument(ctx context.Context, path string) (*Document, error)
	// FetchQuery runs a query and returns the matching documents in query order.
	FetchQuery(ctx context.Context, query QueryDescriptor) ([]*Document, error)
	// CommitBatch applies every write or none of them.
	CommitBatch(ctx context.Context, writes []Write) (*CommitResult, error)
	// Subscribe streams the full result set of target each time it changes. The
	// first event carries the current state. The channel closes when ctx is done;
	// an event carrying Err is the last one.
	Subscribe(ctx context.Context, target Target) (<-chan WatchEvent, error)
	Close() error
}

// Document is the stored form of a document.
type Document struct {
	Path       string    `json:"path"`
	Fields     Fields    `json:"fields"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
}

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = d.Fields.Clone()
	return &c
}

// CommitResult reports a successful commit.
type CommitResult struct {
	CommitTime time.Time `json:"commitTime"`
}

// Target is what a subscription watches: one document or one query.
type Target struct {
	DocumentPath string           `json:"documentPath,omitempty"`
	Query        *QueryDescriptor `json:"query,omitempty"`
}

// Key identifies the target for caching and logging.
func (t Target) Key() string {
	if t.Query != nil {
		return "query:" + t.Query.Fingerprint()
	}
	return "doc:" + t.DocumentPath
}

// Matches reports whether a write to documentPath can change the target's result.
func (t Target) Matches(documentPath string) bool {
	if t.Query != nil {
		return t.Query.Contains(documentPath)
	}
	return t.DocumentPath == documentPath
}

// WatchEvent is one delivery on a subscription stream.
type WatchEvent struct {
	Documents []*Document
	ReadTime  time.Time
	Err       error
}

// ChangeKind classifies a document change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeRecord describes one committed document change, as kept by a change log.
type ChangeRecord struct {
	ID         string     `json:"id,omitempty"`
	Kind       ChangeKind `json:"kind"`
	Path       string     `json:"path"`
	Document   *Document  `json:"document,omitempty"`
	CommitTime time.Time  `json:"commitTime"`
}

// ChangeRecorder persists change records. Transports call it after every commit.
type ChangeRecorder interface {
	Record(ctx context.Context, changes []ChangeRecord) error
}
