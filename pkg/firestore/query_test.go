package firestore_test

import (
	"context"
	"testing"

	"firestore-client/pkg/firestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCities(t *testing.T, c *firestore.Client) *firestore.CollectionReference {
	t.Helper()
	ctx := context.Background()
	cities := mustCollection(t, c, "cities")
	batch := c.Batch()
	for id, data := range map[string]map[string]interface{}{
		"SF":  {"name": "San Francisco", "state": "CA", "pop": 860000, "regions": []string{"west_coast", "norcal"}},
		"LA":  {"name": "Los Angeles", "state": "CA", "pop": 3900000, "regions": []string{"west_coast", "socal"}},
		"DC":  {"name": "Washington", "pop": 680000, "regions": []string{"east_coast"}},
		"TOK": {"name": "Tokyo", "pop": 9000000},
		"BJ":  {"name": "Beijing", "pop": 21500000},
	} {
		ref, err := cities.Doc(id)
		require.NoError(t, err)
		batch.Set(ref, data)
	}
	require.NoError(t, batch.Commit(ctx))
	return cities
}

func ids(qs *firestore.QuerySnapshot) []string {
	out := make([]string, len(qs.Docs))
	for i, d := range qs.Docs {
		out[i] = d.ID()
	}
	return out
}

func TestQuery_Get(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	cities := seedCities(t, c)

	cases := []struct {
		name  string
		query firestore.Query
		want  []string
	}{
		{"collection", cities.Query, []string{"BJ", "DC", "LA", "SF", "TOK"}},
		{"equality", cities.Where("state", "==", "CA"), []string{"LA", "SF"}},
		{"range ordered", cities.Where("pop", ">", 1000000).OrderBy("pop", firestore.Desc), []string{"BJ", "TOK", "LA"}},
		{"array contains", cities.Where("regions", "array-contains", "west_coast"), []string{"LA", "SF"}},
		{"in", cities.Where("name", "in", []string{"Tokyo", "Washington"}), []string{"DC", "TOK"}},
		{"document id", cities.Where(firestore.DocumentID, "==", "SF"), []string{"SF"}},
		{"document id in", cities.Where(firestore.DocumentID, "in", []string{"SF", "BJ"}), []string{"BJ", "SF"}},
		{"limit", cities.OrderBy("pop", firestore.Asc).Limit(2), []string{"DC", "SF"}},
		{"limit to last", cities.OrderBy("pop", firestore.Asc).LimitToLast(2), []string{"TOK", "BJ"}},
		{"start at", cities.OrderBy("name", "").StartAt("San Francisco"), []string{"SF", "TOK", "DC"}},
		{"start after end before", cities.OrderBy("name", firestore.Asc).StartAfter("Beijing").EndBefore("Tokyo"), []string{"LA", "SF"}},
		{"end at", cities.OrderBy("state", firestore.Asc).OrderBy("name", firestore.Asc).EndAt("CA", "Los Angeles"), []string{"LA"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.query.Err())
			qs, err := tc.query.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(qs))
			assert.False(t, qs.Metadata.FromCache)
		})
	}
}

func TestQuery_SnapshotCursor(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	cities := seedCities(t, c)

	la, err := cities.Doc("LA")
	require.NoError(t, err)
	snap, err := la.Get(ctx)
	require.NoError(t, err)

	// The cursor comes first; its values are taken once the OrderBy is known.
	q := cities.StartAfter(snap).OrderBy("pop", firestore.Asc)
	require.NoError(t, q.Err())
	qs, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TOK", "BJ"}, ids(qs))

	_, err = cities.StartAt(snap).Get(ctx)
	assert.ErrorIs(t, err, firestore.ErrInvalidCursor)

	missing, err := mustDoc(t, c, "cities/NOPE").Get(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, cities.OrderBy("pop", firestore.Asc).StartAt(missing).Err(), firestore.ErrInvalidCursor)
}

func TestQuery_SnapshotCursorPagesThroughTies(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	teams := mustCollection(t, c, "teams")
	batch := c.Batch()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		ref, err := teams.Doc(id)
		require.NoError(t, err)
		batch.Set(ref, map[string]interface{}{"rank": 1})
	}
	require.NoError(t, batch.Commit(ctx))

	var seen []string
	q := teams.OrderBy("rank", firestore.Asc).Limit(2)
	page, err := q.Get(ctx)
	require.NoError(t, err)
	for !page.Empty() {
		seen = append(seen, ids(page)...)
		page, err = q.StartAfter(page.Docs[len(page.Docs)-1]).Get(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)

	c3, err := teams.Doc("c")
	require.NoError(t, err)
	snap, err := c3.Get(ctx)
	require.NoError(t, err)
	before, err := teams.OrderBy("rank", firestore.Asc).EndBefore(snap).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(before))
}

func TestQuery_InvalidCursors(t *testing.T) {
	c := newClient(t, newStore())
	cities := mustCollection(t, c, "cities")

	cases := map[string]firestore.Query{
		"no values":             cities.OrderBy("pop", firestore.Asc).StartAt(),
		"more values":           cities.OrderBy("pop", firestore.Asc).StartAt(1, 2),
		"no order by":           cities.EndAt(1),
		"order by after cursor": cities.OrderBy("pop", firestore.Asc).StartAt(1).OrderBy("name", firestore.Asc),
		"fewer values":          cities.OrderBy("age", firestore.Asc).OrderBy("name", firestore.Asc).Limit(5).EndAt(30),
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, q.Err(), firestore.ErrInvalidCursor)
			_, err := q.Get(context.Background())
			assert.ErrorIs(t, err, firestore.ErrInvalidCursor)
		})
	}
}

func TestQuery_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	cities := mustCollection(t, c, "cities")

	for name, q := range map[string]firestore.Query{
		"bad field":     cities.Where("a..b", "==", 1),
		"bad operator":  cities.Where("a", "like", 1),
		"in scalar":     cities.Where("a", "in", 1),
		"bad direction": cities.OrderBy("a", "sideways"),
		"zero limit":    cities.Limit(0),
		"bad value":     cities.Where("a", "==", struct{}{}),
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, q.Err(), firestore.ErrInvalidArgument)
		})
	}

	_, err := cities.LimitToLast(1).Get(ctx)
	assert.ErrorIs(t, err, firestore.ErrInvalidArgument)

	sticky := cities.Limit(-1).Where("ok", "==", 1).OrderBy("ok", firestore.Asc)
	assert.ErrorIs(t, sticky.Err(), firestore.ErrInvalidArgument)
}

func TestQuery_BuildersLeaveReceiverUntouched(t *testing.T) {
	c := newClient(t, newStore())
	cities := mustCollection(t, c, "cities")

	base := cities.Where("state", "==", "CA")
	before, err := base.Descriptor()
	require.NoError(t, err)

	derived := []firestore.Query{
		base.Where("pop", ">", 1),
		base.OrderBy("pop", firestore.Desc),
		base.Limit(3),
		base.OrderBy("pop", firestore.Asc).StartAt(5),
		base.Where("x", "bogus", 1),
	}
	after, err := base.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint(), after.Fingerprint())
	assert.NoError(t, base.Err())

	a := base.Where("a", "==", 1)
	b := base.Where("b", "==", 2)
	da, _ := a.Descriptor()
	db, _ := b.Descriptor()
	assert.Equal(t, "a", da.Filters[1].Field)
	assert.Equal(t, "b", db.Filters[1].Field)
	assert.False(t, derived[0].IsEqual(derived[1]))
}

func TestQuery_IsEqual(t *testing.T) {
	c := newClient(t, newStore())
	cities := mustCollection(t, c, "cities")
	again := mustCollection(t, c, "/cities/")

	assert.True(t, cities.Where("a", "==", 1).IsEqual(again.Where("a", "==", 1)))
	assert.False(t, cities.Where("a", "==", 1).IsEqual(again.Where("a", "==", 2)))

	other := newClient(t, newStore())
	assert.False(t, cities.Query.IsEqual(mustCollection(t, other, "cities").Query))
}

func TestCollectionGroup(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())

	for _, path := range []string{"cities/SF/landmarks/gg", "cities/LA/landmarks/hw", "landmarks/top", "cities/SF/museums/moma"} {
		require.NoError(t, mustDoc(t, c, path).Set(ctx, map[string]interface{}{"path": path}))
	}

	qs, err := c.CollectionGroup("landmarks").Get(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gg", "hw", "top"}, ids(qs))

	assert.ErrorIs(t, c.CollectionGroup("a/b").Err(), firestore.ErrInvalidPath)
}

func TestQuery_SubCollection(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newStore())
	posts, err := mustDoc(t, c, "users/ada").Collection("posts")
	require.NoError(t, err)

	require.NoError(t, mustDoc(t, c, "users/ada/posts/p1").Set(ctx, map[string]interface{}{"n": 1}))
	require.NoError(t, mustDoc(t, c, "users/bob/posts/p2").Set(ctx, map[string]interface{}{"n": 2}))

	qs, err := posts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(qs))
}
