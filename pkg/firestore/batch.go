package firestore

import (
	"context"
	"sync"

	apperrors "firestore-client/internal/shared/errors"
)

// MaxBatchWrites is the largest number of writes one commit may carry.
const MaxBatchWrites = 500

// WriteBatch collects writes and commits them atomically. Errors are sticky:
// the first invalid write is returned by Commit and nothing is sent.
type WriteBatch struct {
	c         *Client
	mu        sync.Mutex
	writes    []Write
	committed bool
	err       error
}

// Set queues a Set of ref.
func (b *WriteBatch) Set(ref *DocumentReference, data map[string]interface{}, opts ...SetOptions) *WriteBatch {
	return b.add(ref, func() (Write, error) { return newSetWrite(ref.Path(), data, setOptions(opts)) })
}

// Update queues an Update of ref.
func (b *WriteBatch) Update(ref *DocumentReference, data map[string]interface{}) *WriteBatch {
	return b.add(ref, func() (Write, error) { return newUpdateWrite(ref.Path(), data) })
}

// Delete queues a Delete of ref.
func (b *WriteBatch) Delete(ref *DocumentReference) *WriteBatch {
	return b.add(ref, func() (Write, error) { return Write{Kind: WriteDelete, Path: ref.Path()}, nil })
}

func (b *WriteBatch) add(ref *DocumentReference, build func() (Write, error)) *WriteBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b
	}
	switch {
	case b.committed:
		b.err = apperrors.NewFailedPreconditionError("batch already committed")
	case ref == nil || ref.c != b.c:
		b.err = apperrors.NewInvalidArgumentError("document reference belongs to another client")
	case len(b.writes) >= MaxBatchWrites:
		b.err = apperrors.NewInvalidArgumentError("a batch holds at most 500 writes")
	}
	if b.err != nil {
		return b
	}
	w, err := build()
	if err != nil {
		b.err = err
		return b
	}
	b.writes = append(b.writes, w)
	return b
}

// Len returns the number of queued writes.
func (b *WriteBatch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

// Commit applies every queued write or none. A batch commits once.
func (b *WriteBatch) Commit(ctx context.Context) error {
	b.mu.Lock()
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		return err
	}
	if b.committed {
		b.mu.Unlock()
		return apperrors.NewFailedPreconditionError("batch already committed")
	}
	b.committed = true
	writes := b.writes
	b.mu.Unlock()

	if len(writes) == 0 {
		return nil
	}
	_, err := b.c.commit(ctx, writes)
	return err
}
