package firestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	apperrors "firestore-client/internal/shared/errors"
)

// ValueKind tags the variant held by a Value. The declaration order is the
// cross-kind sort order used by queries.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInteger
	KindDouble
	KindTimestamp
	KindString
	KindBytes
	KindReference
	KindGeoPoint
	KindArray
	KindMap
)

var kindNames = [...]string{"null", "boolean", "integer", "double", "timestamp", "string", "bytes", "reference", "geoPoint", "array", "map"}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// GeoPoint represents a geographical point.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Value is an immutable document value.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	t    time.Time
	g    GeoPoint
	a    []Value
	m    Fields
}

func NullValue() Value              { return Value{kind: KindNull} }
func BoolValue(b bool) Value        { return Value{kind: KindBool, b: b} }
func IntegerValue(i int64) Value    { return Value{kind: KindInteger, i: i} }
func DoubleValue(f float64) Value   { return Value{kind: KindDouble, f: f} }
func StringValue(s string) Value    { return Value{kind: KindString, s: s} }
func GeoPointValue(g GeoPoint) Value { return Value{kind: KindGeoPoint, g: g} }

// TimestampValue truncates to microseconds, the precision the store keeps.
func TimestampValue(t time.Time) Value {
	return Value{kind: KindTimestamp, t: t.UTC().Truncate(time.Microsecond)}
}

func BytesValue(b []byte) Value {
	return Value{kind: KindBytes, by: append([]byte(nil), b...)}
}

// ReferenceValue holds a document path relative to the database root.
func ReferenceValue(documentPath string) Value {
	return Value{kind: KindReference, s: documentPath}
}

func ArrayValue(values ...Value) Value {
	return Value{kind: KindArray, a: append([]Value(nil), values...)}
}

func MapValue(fields Fields) Value {
	return Value{kind: KindMap, m: fields.Clone()}
}

func (v Value) Kind() ValueKind      { return v.kind }
func (v Value) IsNull() bool         { return v.kind == KindNull }
func (v Value) AsBool() bool         { return v.b }
func (v Value) AsInteger() int64     { return v.i }
func (v Value) AsDouble() float64    { return v.f }
func (v Value) AsString() string     { return v.s }
func (v Value) AsTime() time.Time    { return v.t }
func (v Value) AsGeoPoint() GeoPoint { return v.g }
func (v Value) AsReference() string  { return v.s }

func (v Value) AsBytes() []byte  { return append([]byte(nil), v.by...) }
func (v Value) AsArray() []Value { return append([]Value(nil), v.a...) }
func (v Value) AsMap() Fields    { return v.m.Clone() }

// number reports the numeric value of integer and double values.
func (v Value) number() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindDouble:
		return v.f, true
	}
	return 0, false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprint(v.b)
	case KindInteger:
		return fmt.Sprint(v.i)
	case KindDouble:
		return fmt.Sprint(v.f)
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.by))
	case KindReference:
		return "ref(" + v.s + ")"
	case KindGeoPoint:
		return fmt.Sprintf("geo(%g,%g)", v.g.Latitude, v.g.Longitude)
	case KindArray:
		parts := make([]string, len(v.a))
		for i, e := range v.a {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindMap:
		keys := v.m.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.m[k].String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return "?"
}

// typeOrder collapses integer and double into one numeric class.
func typeOrder(k ValueKind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInteger, KindDouble:
		return 2
	default:
		return int(k) - 1
	}
}

// CompareValues orders two values by kind class first, then by value.
func CompareValues(a, b Value) int {
	if oa, ob := typeOrder(a.kind), typeOrder(b.kind); oa != ob {
		return cmpInt(oa, ob)
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		}
		return 1
	case KindInteger, KindDouble:
		return compareNumbers(a, b)
	case KindTimestamp:
		return a.t.Compare(b.t)
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindBytes:
		return bytes.Compare(a.by, b.by)
	case KindReference:
		return compareSegments(strings.Split(a.s, "/"), strings.Split(b.s, "/"))
	case KindGeoPoint:
		if c := compareFloats(a.g.Latitude, b.g.Latitude); c != 0 {
			return c
		}
		return compareFloats(a.g.Longitude, b.g.Longitude)
	case KindArray:
		for i := 0; i < len(a.a) && i < len(b.a); i++ {
			if c := CompareValues(a.a[i], b.a[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(a.a), len(b.a))
	case KindMap:
		ak, bk := a.m.Keys(), b.m.Keys()
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := strings.Compare(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := CompareValues(a.m[ak[i]], b.m[bk[i]]); c != 0 {
				return c
			}
		}
		return cmpInt(len(ak), len(bk))
	}
	return 0
}

// Equal reports whether two values compare equal. Integer 1 equals double 1.0.
func (v Value) Equal(other Value) bool {
	return CompareValues(v, other) == 0
}

func compareNumbers(a, b Value) int {
	if a.kind == KindInteger && b.kind == KindInteger {
		return cmpInt64(a.i, b.i)
	}
	af, _ := a.number()
	bf, _ := b.number()
	return compareFloats(af, bf)
}

// compareFloats sorts NaN before every other number.
func compareFloats(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareSegments(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ValueOf converts a Go value into a Value. Supported inputs are nil, bool, the
// integer and float kinds, string, []byte, time.Time, GeoPoint, *DocumentReference,
// Value, Fields, slices and string-keyed maps of supported values.
func ValueOf(x interface{}) (Value, error) {
	switch v := x.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return v, nil
	case *Value:
		if v == nil {
			return NullValue(), nil
		}
		return *v, nil
	case bool:
		return BoolValue(v), nil
	case int:
		return IntegerValue(int64(v)), nil
	case int8:
		return IntegerValue(int64(v)), nil
	case int16:
		return IntegerValue(int64(v)), nil
	case int32:
		return IntegerValue(int64(v)), nil
	case int64:
		return IntegerValue(v), nil
	case uint8:
		return IntegerValue(int64(v)), nil
	case uint16:
		return IntegerValue(int64(v)), nil
	case uint32:
		return IntegerValue(int64(v)), nil
	case uint:
		return uintValue(uint64(v))
	case uint64:
		return uintValue(v)
	case float32:
		return DoubleValue(float64(v)), nil
	case float64:
		return DoubleValue(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return IntegerValue(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, apperrors.NewInvalidArgumentError("invalid number " + v.String())
		}
		return DoubleValue(f), nil
	case string:
		return StringValue(v), nil
	case []byte:
		return BytesValue(v), nil
	case time.Time:
		return TimestampValue(v), nil
	case *time.Time:
		if v == nil {
			return NullValue(), nil
		}
		return TimestampValue(*v), nil
	case GeoPoint:
		return GeoPointValue(v), nil
	case *DocumentReference:
		if v == nil {
			return NullValue(), nil
		}
		return ReferenceValue(v.Path()), nil
	case Fields:
		return MapValue(v), nil
	case []Value:
		return ArrayValue(v...), nil
	case []interface{}:
		return arrayOf(len(v), func(i int) interface{} { return v[i] })
	case map[string]interface{}:
		fields := make(Fields, len(v))
		for k, e := range v {
			ev, err := ValueOf(e)
			if err != nil {
				return Value{}, err
			}
			fields[k] = ev
		}
		return Value{kind: KindMap, m: fields}, nil
	case *FieldValue, FieldValue:
		return Value{}, apperrors.NewInvalidArgumentError("field transforms are only allowed as top-level write values")
	}
	return reflectValueOf(reflect.ValueOf(x))
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, apperrors.NewInvalidArgumentError("unsigned integer overflows int64")
	}
	return IntegerValue(int64(u)), nil
}

func arrayOf(n int, at func(int) interface{}) (Value, error) {
	values := make([]Value, n)
	for i := 0; i < n; i++ {
		v, err := ValueOf(at(i))
		if err != nil {
			return Value{}, err
		}
		values[i] = v
	}
	return Value{kind: KindArray, a: values}, nil
}

func reflectValueOf(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return NullValue(), nil
		}
		return ValueOf(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		return arrayOf(rv.Len(), func(i int) interface{} { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(Fields, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := ValueOf(iter.Value().Interface())
			if err != nil {
				return Value{}, err
			}
			fields[iter.Key().String()] = ev
		}
		return Value{kind: KindMap, m: fields}, nil
	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntegerValue(rv.Int()), nil
	case reflect.Float32, reflect.Float64:
		return DoubleValue(rv.Float()), nil
	}
	if !rv.IsValid() {
		return NullValue(), nil
	}
	return Value{}, apperrors.NewInvalidArgumentError(fmt.Sprintf("unsupported value type %s", rv.Type()))
}

// Interface converts back to plain Go values: nil, bool, int64, float64, time.Time,
// string, []byte, GeoPoint, []interface{}, map[string]interface{}. References become
// their document path string; DocumentSnapshot.Data turns them into references.
func (v Value) Interface() interface{} {
	return v.toGo(func(path string) interface{} { return path })
}

func (v Value) toGo(ref func(string) interface{}) interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.f
	case KindTimestamp:
		return v.t
	case KindString:
		return v.s
	case KindBytes:
		return v.AsBytes()
	case KindReference:
		return ref(v.s)
	case KindGeoPoint:
		return v.g
	case KindArray:
		out := make([]interface{}, len(v.a))
		for i, e := range v.a {
			out[i] = e.toGo(ref)
		}
		return out
	case KindMap:
		return v.m.toGo(ref)
	}
	return nil
}

// Fields maps field names to values. Iteration helpers walk keys in sorted order so
// every serialization of a Fields value is canonical.
type Fields map[string]Value

// FieldsOf converts a Go map into Fields.
func FieldsOf(data map[string]interface{}) (Fields, error) {
	v, err := ValueOf(data)
	if err != nil {
		return nil, err
	}
	return v.m, nil
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies nested maps and arrays.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.kind {
	case KindMap:
		v.m = v.m.Clone()
	case KindArray:
		arr := make([]Value, len(v.a))
		for i, e := range v.a {
			arr[i] = e.clone()
		}
		v.a = arr
	}
	return v
}

// Get resolves a field path through nested maps.
func (f Fields) Get(path FieldPath) (Value, bool) {
	if len(path) == 0 {
		return Value{}, false
	}
	cur := f
	for i, seg := range path {
		v, ok := cur[seg]
		if !ok {
			return Value{}, false
		}
		if i == len(path)-1 {
			return v, true
		}
		if v.kind != KindMap {
			return Value{}, false
		}
		cur = v.m
	}
	return Value{}, false
}

// set writes v at path, creating or replacing intermediate maps.
func (f Fields) set(path FieldPath, v Value) {
	cur := f
	for i, seg := range path {
		if i == len(path)-1 {
			cur[seg] = v
			return
		}
		next, ok := cur[seg]
		if !ok || next.kind != KindMap {
			next = Value{kind: KindMap, m: Fields{}}
		} else if next.m == nil {
			next.m = Fields{}
		}
		cur[seg] = next
		cur = next.m
	}
}

// remove deletes the value at path; missing paths are a no-op.
func (f Fields) remove(path FieldPath) {
	cur := f
	for i, seg := range path {
		if i == len(path)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg]
		if !ok || next.kind != KindMap {
			return
		}
		cur = next.m
	}
}

// leafPaths lists every path that ends in a non-map value or an empty map.
func (f Fields) leafPaths(prefix FieldPath) []FieldPath {
	var out []FieldPath
	for _, k := range f.Keys() {
		p := append(append(FieldPath{}, prefix...), k)
		v := f[k]
		if v.kind == KindMap && len(v.m) > 0 {
			out = append(out, v.m.leafPaths(p)...)
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f Fields) toGo(ref func(string) interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v.toGo(ref)
	}
	return out
}
