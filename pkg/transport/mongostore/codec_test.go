package mongostore

import (
	"math"
	"testing"
	"time"

	"firestore-client/pkg/firestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRecord_RoundTripThroughBSON(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	doc := &firestore.Document{
		Path: "users/ada/posts/p1",
		Fields: firestore.Fields{
			"null":    firestore.NullValue(),
			"flag":    firestore.BoolValue(true),
			"count":   firestore.IntegerValue(math.MaxInt64),
			"ratio":   firestore.DoubleValue(2.0),
			"when":    firestore.TimestampValue(created),
			"title":   firestore.StringValue("Notes"),
			"blob":    firestore.BytesValue([]byte{0, 1, 2}),
			"author":  firestore.ReferenceValue("users/ada"),
			"where":   firestore.GeoPointValue(firestore.GeoPoint{Latitude: 51.5, Longitude: -0.12}),
			"tags":    firestore.ArrayValue(firestore.StringValue("a"), firestore.IntegerValue(2)),
			"meta":    firestore.MapValue(firestore.Fields{"depth": firestore.MapValue(firestore.Fields{"n": firestore.IntegerValue(1)})}),
			"nothing": firestore.ArrayValue(),
		},
		CreateTime: created,
		UpdateTime: created.Add(time.Second),
	}

	rec := toRecord(doc)
	assert.Equal(t, "users/ada", rec.Parent)
	assert.Equal(t, "posts", rec.CollectionID)

	raw, err := bson.Marshal(rec)
	require.NoError(t, err)
	var decoded record
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	got, err := decoded.document()
	require.NoError(t, err)
	assert.Equal(t, doc.Path, got.Path)
	assert.True(t, got.CreateTime.Equal(doc.CreateTime))
	assert.True(t, got.UpdateTime.Equal(doc.UpdateTime))
	require.Len(t, got.Fields, len(doc.Fields))
	for name, want := range doc.Fields {
		have := got.Fields[name]
		assert.Equal(t, want.Kind(), have.Kind(), name)
		assert.True(t, want.Equal(have), "%s: want %v, have %v", name, want, have)
	}
	assert.Equal(t, firestore.KindDouble, got.Fields["ratio"].Kind(), "whole doubles stay doubles")
	assert.Equal(t, firestore.KindReference, got.Fields["author"].Kind(), "references stay references")
}

func TestDecodeValue_Rejects(t *testing.T) {
	for name, raw := range map[string]interface{}{
		"two tags":    bson.M{"i": int64(1), "s": "x"},
		"unknown tag": bson.M{"q": 1},
		"wrong type":  bson.M{"i": "seven"},
		"not a doc":   "plain",
		"bad geo":     bson.M{"g": bson.A{1.0}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeValue(raw)
			assert.Error(t, err)
		})
	}
}

func TestCandidateFilter(t *testing.T) {
	assert.Equal(t, bson.M{"collectionId": "users", "parent": ""}, candidateFilter(firestore.QueryDescriptor{CollectionID: "users"}))
	assert.Equal(t, bson.M{"collectionId": "posts", "parent": "users/ada"},
		candidateFilter(firestore.QueryDescriptor{Parent: "users/ada", CollectionID: "posts"}))
	assert.Equal(t, bson.M{"collectionId": "posts"}, candidateFilter(firestore.QueryDescriptor{CollectionID: "posts", AllDescendants: true}))
	assert.Equal(t, bson.M{"collectionId": "posts", "_id": bson.M{"$regex": `^users/a\.b/`}},
		candidateFilter(firestore.QueryDescriptor{Parent: "users/a.b", CollectionID: "posts", AllDescendants: true}))
}

func TestSplitPath(t *testing.T) {
	parent, coll := splitPath("users/ada")
	assert.Equal(t, "", parent)
	assert.Equal(t, "users", coll)

	parent, coll = splitPath("a/b/c/d")
	assert.Equal(t, "a/b", parent)
	assert.Equal(t, "c", coll)
}
