package firestore

import (
	"context"

	apperrors "firestore-client/internal/shared/errors"
)

// DocumentReference names a document. References are immutable values; creating
// one performs no I/O and the document need not exist.
type DocumentReference struct {
	c    *Client
	path Path
}

// ID is the last path segment.
func (d *DocumentReference) ID() string { return d.path.LastSegment() }

// Path is the normalized slash separated path relative to the database root.
func (d *DocumentReference) Path() string { return d.path.String() }

// Client returns the client the reference belongs to.
func (d *DocumentReference) Client() *Client { return d.c }

// Parent returns the collection holding the document.
func (d *DocumentReference) Parent() *CollectionReference {
	return d.c.newCollectionRef(d.path.Parent())
}

// Collection returns a collection below the document. path may name a nested
// collection such as "posts/p1/comments".
func (d *DocumentReference) Collection(path string) (*CollectionReference, error) {
	p, err := JoinPath(d.path, path)
	if err != nil {
		return nil, err
	}
	if !p.IsCollection() {
		return nil, apperrors.NewInvalidPathError("collection path must have an odd number of segments").
			WithDetail("path", p.String())
	}
	return d.c.newCollectionRef(p), nil
}

// IsEqual compares by normalized path and client.
func (d *DocumentReference) IsEqual(other *DocumentReference) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.c == other.c && d.path.Equal(other.path)
}

// Get reads the document. A missing document is a snapshot with Exists() == false
// unless the read is served from the cache, where an unknown document is NOT_FOUND.
func (d *DocumentReference) Get(ctx context.Context, opts ...GetOptions) (*DocumentSnapshot, error) {
	return d.c.getDocument(ctx, d, getOptions(opts))
}

// Set creates or overwrites the document, or merges into it with SetOptions.
func (d *DocumentReference) Set(ctx context.Context, data map[string]interface{}, opts ...SetOptions) error {
	w, err := newSetWrite(d.Path(), data, setOptions(opts))
	if err != nil {
		return err
	}
	_, err = d.c.commit(ctx, []Write{w})
	return err
}

// Update changes the named fields of an existing document. Keys are dotted field
// paths. Updating a missing document fails with NOT_FOUND.
func (d *DocumentReference) Update(ctx context.Context, data map[string]interface{}) error {
	w, err := newUpdateWrite(d.Path(), data)
	if err != nil {
		return err
	}
	_, err = d.c.commit(ctx, []Write{w})
	return err
}

// Delete removes the document. Deleting a missing document succeeds.
func (d *DocumentReference) Delete(ctx context.Context) error {
	_, err := d.c.commit(ctx, []Write{{Kind: WriteDelete, Path: d.Path()}})
	return err
}

// OnSnapshot listens for changes to the document. onError may be nil.
func (d *DocumentReference) OnSnapshot(onNext func(*DocumentSnapshot), onError func(error)) (*ListenerRegistration, error) {
	return d.c.listenDocument(d, onNext, onError)
}

func setOptions(opts []SetOptions) SetOptions {
	if len(opts) == 0 {
		return SetOptions{}
	}
	return opts[0]
}

// CollectionReference names a collection. It is also the query that returns
// every document of the collection.
type CollectionReference struct {
	Query
	path Path
}

func (c *CollectionReference) ID() string   { return c.path.LastSegment() }
func (c *CollectionReference) Path() string { return c.path.String() }

// Parent returns the document owning the collection, nil for a top-level one.
func (c *CollectionReference) Parent() *DocumentReference {
	parent := c.path.Parent()
	if parent.IsRoot() {
		return nil
	}
	return &DocumentReference{c: c.c, path: parent}
}

// Doc returns a document in the collection. path may name a nested document such
// as "p1/comments/c1".
func (c *CollectionReference) Doc(path string) (*DocumentReference, error) {
	p, err := JoinPath(c.path, path)
	if err != nil {
		return nil, err
	}
	if !p.IsDocument() {
		return nil, apperrors.NewInvalidPathError("document path must have an even number of segments").
			WithDetail("path", p.String())
	}
	return &DocumentReference{c: c.c, path: p}, nil
}

// NewDoc returns a reference with a random id. The document is not created.
func (c *CollectionReference) NewDoc() *DocumentReference {
	return &DocumentReference{c: c.c, path: c.path.child(newAutoID())}
}

// Add creates a document with a random id.
func (c *CollectionReference) Add(ctx context.Context, data map[string]interface{}) (*DocumentReference, error) {
	ref := c.NewDoc()
	if err := ref.Set(ctx, data); err != nil {
		return nil, err
	}
	return ref, nil
}

// IsEqual compares by normalized path and client.
func (c *CollectionReference) IsEqual(other *CollectionReference) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.c == other.c && c.path.Equal(other.path)
}
