package firestore

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareValues_TotalOrder(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ordered := []Value{
		NullValue(),
		BoolValue(false),
		BoolValue(true),
		DoubleValue(math.NaN()),
		IntegerValue(-1),
		DoubleValue(0.5),
		IntegerValue(1),
		TimestampValue(ts),
		TimestampValue(ts.Add(time.Second)),
		StringValue("a"),
		StringValue("b"),
		BytesValue([]byte{0x01}),
		ReferenceValue("users/a"),
		ReferenceValue("users/a/posts/p"),
		ReferenceValue("users/b"),
		GeoPointValue(GeoPoint{Latitude: 1, Longitude: 2}),
		ArrayValue(),
		ArrayValue(IntegerValue(1)),
		MapValue(Fields{}),
		MapValue(Fields{"a": IntegerValue(1)}),
	}
	for i := range ordered {
		for j := range ordered {
			got := CompareValues(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Equal(t, -1, got, "%v < %v", ordered[i], ordered[j])
			case i > j:
				assert.Equal(t, 1, got, "%v > %v", ordered[i], ordered[j])
			default:
				assert.Equal(t, 0, got, "%v == %v", ordered[i], ordered[j])
			}
		}
	}
}

func TestValue_IntegerEqualsDouble(t *testing.T) {
	assert.True(t, IntegerValue(1).Equal(DoubleValue(1.0)))
	assert.False(t, IntegerValue(1).Equal(StringValue("1")))
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(map[string]interface{}{
		"name":  "Ada",
		"age":   30,
		"score": float32(1.5),
		"tags":  []string{"math", "poetry"},
		"born":  time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC),
		"nil":   nil,
		"inner": map[string]int{"x": 1},
	})
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	m := v.AsMap()
	assert.Equal(t, KindString, m["name"].Kind())
	assert.Equal(t, int64(30), m["age"].AsInteger())
	assert.Equal(t, KindDouble, m["score"].Kind())
	assert.Len(t, m["tags"].AsArray(), 2)
	assert.Equal(t, KindTimestamp, m["born"].Kind())
	assert.True(t, m["nil"].IsNull())
	assert.Equal(t, int64(1), m["inner"].AsMap()["x"].AsInteger())

	_, err = ValueOf(uint64(math.MaxUint64))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ValueOf(struct{ A int }{1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ValueOf(Increment(1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValue_Interface(t *testing.T) {
	v, err := ValueOf(map[string]interface{}{"n": 1, "list": []interface{}{"a", true}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"n":    int64(1),
		"list": []interface{}{"a", true},
	}, v.Interface())
}

func TestValue_JSONWireForm(t *testing.T) {
	b, err := json.Marshal(IntegerValue(5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"integerValue":"5"}`, string(b))

	b, err = json.Marshal(MapValue(Fields{"a": ArrayValue(StringValue("x"), NullValue())}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"mapValue":{"fields":{"a":{"arrayValue":{"values":[{"stringValue":"x"},{"nullValue":null}]}}}}}`, string(b))
}

func TestValue_JSONRoundTrip(t *testing.T) {
	original := Fields{
		"null":  NullValue(),
		"bool":  BoolValue(true),
		"int":   IntegerValue(math.MaxInt64),
		"float": DoubleValue(2.25),
		"nan":   DoubleValue(math.NaN()),
		"time":  TimestampValue(time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)),
		"str":   StringValue("héllo"),
		"bytes": BytesValue([]byte("raw")),
		"ref":   ReferenceValue("users/ada"),
		"geo":   GeoPointValue(GeoPoint{Latitude: 51.5, Longitude: -0.12}),
		"arr":   ArrayValue(IntegerValue(1), StringValue("two")),
		"map":   MapValue(Fields{"nested": BoolValue(false)}),
		"empty": MapValue(Fields{}),
	}
	b, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Fields
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, MapValue(original).Equal(MapValue(decoded)))
	assert.Equal(t, KindInteger, decoded["int"].Kind())
	assert.True(t, math.IsNaN(decoded["nan"].AsDouble()))
}

func TestValue_UnmarshalRejectsUnknownType(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{"weirdValue":1}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"stringValue":"a","booleanValue":true}`), &v))
}

func TestFields_NestedAccess(t *testing.T) {
	f := Fields{}
	f.set(FieldPath{"address", "city"}, StringValue("London"))
	f.set(FieldPath{"address", "zip"}, StringValue("N1"))

	v, ok := f.Get(FieldPath{"address", "city"})
	require.True(t, ok)
	assert.Equal(t, "London", v.AsString())

	f.remove(FieldPath{"address", "zip"})
	_, ok = f.Get(FieldPath{"address", "zip"})
	assert.False(t, ok)

	assert.Equal(t, []FieldPath{{"address", "city"}}, f.leafPaths(nil))
	assert.Equal(t, []string{"address"}, f.Keys())
}
