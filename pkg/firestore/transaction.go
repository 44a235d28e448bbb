package firestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "firestore-client/internal/shared/errors"

	"github.com/google/uuid"
)

// Transaction reads documents through the transport and buffers writes. At
// commit every write carries a precondition pinning the version that was read,
// so a concurrent change aborts the commit.
type Transaction struct {
	c      *Client
	ctx    context.Context
	id     string
	mu     sync.Mutex
	reads  map[string]*Document // path -> version read, nil when missing
	order  []string
	writes []Write
}

// Get reads ref inside the transaction. Every read must come before the first write.
func (t *Transaction) Get(ref *DocumentReference) (*DocumentSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.writes) > 0 {
		return nil, apperrors.NewInvalidArgumentError("transaction reads must come before writes")
	}
	if ref == nil || ref.c != t.c {
		return nil, apperrors.NewInvalidArgumentError("document reference belongs to another client")
	}

	path := ref.Path()
	doc, err := t.c.transport.FetchDocument(t.ctx, path)
	switch {
	case err == nil:
	case apperrors.IsNotFound(err):
		doc = nil
	default:
		return nil, err
	}
	if _, seen := t.reads[path]; !seen {
		t.order = append(t.order, path)
	}
	t.reads[path] = doc
	return newDocumentSnapshot(ref, doc, time.Now().UTC(), SnapshotMetadata{}), nil
}

// Set queues a Set of ref.
func (t *Transaction) Set(ref *DocumentReference, data map[string]interface{}, opts ...SetOptions) error {
	return t.add(ref, func() (Write, error) { return newSetWrite(ref.Path(), data, setOptions(opts)) })
}

// Update queues an Update of ref.
func (t *Transaction) Update(ref *DocumentReference, data map[string]interface{}) error {
	return t.add(ref, func() (Write, error) { return newUpdateWrite(ref.Path(), data) })
}

// Delete queues a Delete of ref.
func (t *Transaction) Delete(ref *DocumentReference) error {
	return t.add(ref, func() (Write, error) { return Write{Kind: WriteDelete, Path: ref.Path()}, nil })
}

func (t *Transaction) add(ref *DocumentReference, build func() (Write, error)) error {
	if ref == nil || ref.c != t.c {
		return apperrors.NewInvalidArgumentError("document reference belongs to another client")
	}
	w, err := build()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.writes) >= MaxBatchWrites {
		return apperrors.NewInvalidArgumentError("a transaction holds at most 500 writes")
	}
	t.writes = append(t.writes, w)
	return nil
}

// commitWrites attaches read preconditions and adds a verify write for every
// document that was read but not written.
func (t *Transaction) commitWrites() []Write {
	written := make(map[string]bool, len(t.writes))
	out := make([]Write, 0, len(t.writes)+len(t.reads))
	for _, w := range t.writes {
		if doc, read := t.reads[w.Path]; read && !written[w.Path] {
			w.Precondition = readPrecondition(doc)
		}
		written[w.Path] = true
		out = append(out, w)
	}
	for _, path := range t.order {
		if !written[path] {
			out = append(out, Write{Kind: WriteVerify, Path: path, Precondition: readPrecondition(t.reads[path])})
		}
	}
	return out
}

func readPrecondition(doc *Document) *Precondition {
	if doc == nil {
		exists := false
		return &Precondition{Exists: &exists}
	}
	ut := doc.UpdateTime
	return &Precondition{UpdateTime: &ut}
}

// RunTransaction runs fn and commits its writes atomically. When the commit, or
// fn itself, fails with ABORTED, fn is run again with a fresh transaction, up to
// MaxAttempts times in total. Exhaustion is reported as RETRIES_EXHAUSTED wrapping
// the last ABORTED error. Any other error is returned as is.
func (c *Client) RunTransaction(ctx context.Context, fn func(context.Context, *Transaction) error, opts ...TransactionOptions) error {
	if err := c.beginOperation(); err != nil {
		return err
	}
	if fn == nil {
		return apperrors.NewInvalidArgumentError("RunTransaction needs an update function")
	}
	maxAttempts := DefaultMaxAttempts
	if len(opts) > 0 && opts[0].MaxAttempts > 0 {
		maxAttempts = opts[0].MaxAttempts
	}
	if online, _ := c.network.state(); !online {
		return apperrors.NewUnavailableError("network is disabled")
	}

	ctx = c.opContext(ctx, "transaction")
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &Transaction{c: c, ctx: ctx, id: uuid.NewString(), reads: map[string]*Document{}}
		log := c.logger.WithContext(ctx).WithFields(map[string]interface{}{"transaction": tx.id, "attempt": attempt})

		err := fn(ctx, tx)
		if err == nil {
			writes := tx.commitWrites()
			if len(writes) == 0 {
				return nil
			}
			_, err = c.commit(ctx, writes)
		}
		if err == nil {
			log.Debug("Transaction committed")
			return nil
		}
		if !apperrors.IsAborted(err) {
			return err
		}
		lastErr = err
		log.Warnf("Transaction aborted: %v", err)
	}
	return apperrors.NewRetriesExhaustedError(fmt.Sprintf("transaction aborted %d times", maxAttempts)).WithCause(lastErr)
}
