package firestore_test

import (
	"context"
	"errors"
	"testing"

	"firestore-client/pkg/firestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTransaction_Commits(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	from := mustDoc(t, c, "accounts/a")
	to := mustDoc(t, c, "accounts/b")
	require.NoError(t, from.Set(ctx, map[string]interface{}{"balance": 100}))
	require.NoError(t, to.Set(ctx, map[string]interface{}{"balance": 0}))

	err := c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fs, err := tx.Get(from)
		if err != nil {
			return err
		}
		ts, err := tx.Get(to)
		if err != nil {
			return err
		}
		amount := int64(30)
		if err := tx.Update(from, map[string]interface{}{"balance": fs.Data()["balance"].(int64) - amount}); err != nil {
			return err
		}
		return tx.Update(to, map[string]interface{}{"balance": ts.Data()["balance"].(int64) + amount})
	})
	require.NoError(t, err)

	fs, err := from.Get(ctx)
	require.NoError(t, err)
	ts, err := to.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(70), fs.Data()["balance"])
	assert.Equal(t, int64(30), ts.Data()["balance"])
}

func TestRunTransaction_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	counter := mustDoc(t, c, "counters/visits")
	require.NoError(t, counter.Set(ctx, map[string]interface{}{"n": 1}))

	attempts := 0
	err := c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		snap, err := tx.Get(counter)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer changes the document after it was read.
			if err := counter.Set(ctx, map[string]interface{}{"n": 100}); err != nil {
				return err
			}
		}
		return tx.Set(counter, map[string]interface{}{"n": snap.Data()["n"].(int64) + 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	snap, err := counter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(101), snap.Data()["n"])
}

func TestRunTransaction_ReadOnlyDocumentsAreVerified(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	source := mustDoc(t, c, "docs/source")
	target := mustDoc(t, c, "docs/target")
	require.NoError(t, source.Set(ctx, map[string]interface{}{"v": "one"}))

	attempts := 0
	err := c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		snap, err := tx.Get(source)
		if err != nil {
			return err
		}
		if attempts == 1 {
			if err := source.Set(ctx, map[string]interface{}{"v": "two"}); err != nil {
				return err
			}
		}
		return tx.Set(target, map[string]interface{}{"copy": snap.Data()["v"]})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	snap, err := target.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", snap.Data()["copy"])
}

func TestRunTransaction_MissingDocumentPrecondition(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	ref := mustDoc(t, c, "locks/main")

	attempts := 0
	err := c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if snap.Exists() {
			return nil
		}
		if attempts == 1 {
			if err := ref.Set(ctx, map[string]interface{}{"owner": "other"}); err != nil {
				return err
			}
		}
		return tx.Set(ref, map[string]interface{}{"owner": "me"})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	snap, err := ref.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other", snap.Data()["owner"])
}

func TestRunTransaction_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	ref := mustDoc(t, c, "counters/hot")
	require.NoError(t, ref.Set(ctx, map[string]interface{}{"n": 0}))

	attempts := 0
	err := c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		if err := ref.Update(ctx, map[string]interface{}{"n": firestore.Increment(1)}); err != nil {
			return err
		}
		return tx.Update(ref, map[string]interface{}{"n": -1})
	}, firestore.TransactionOptions{MaxAttempts: 3})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, firestore.ErrRetriesExhausted)
	assert.ErrorIs(t, err, firestore.ErrAborted)
	assert.Equal(t, firestore.ErrorKind("RETRIES_EXHAUSTED"), firestore.Code(err))
}

func TestRunTransaction_Errors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	ref := mustDoc(t, c, "docs/a")

	err := c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(ref, map[string]interface{}{"a": 1}); err != nil {
			return err
		}
		_, err := tx.Get(ref)
		return err
	})
	assert.ErrorIs(t, err, firestore.ErrInvalidArgument, "reads after writes")

	boom := errors.New("boom")
	attempts := 0
	err = c.RunTransaction(ctx, func(context.Context, *firestore.Transaction) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts, "only ABORTED is retried")

	snap, err := ref.Get(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Exists(), "failed transactions write nothing")

	other := newClient(t, newStore())
	err = c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(mustDoc(t, other, "docs/a"))
		return err
	})
	assert.ErrorIs(t, err, firestore.ErrInvalidArgument)

	assert.ErrorIs(t, c.RunTransaction(ctx, nil), firestore.ErrInvalidArgument)

	require.NoError(t, c.DisableNetwork(ctx))
	err = c.RunTransaction(ctx, func(context.Context, *firestore.Transaction) error { return nil })
	assert.ErrorIs(t, err, firestore.ErrUnavailable)
}
