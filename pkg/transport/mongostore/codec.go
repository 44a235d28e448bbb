package mongostore

import (
	"math"
	"strings"
	"time"

	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/pkg/firestore"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Values are stored as single-key documents tagged with their kind, e.g.
// {i: 5} or {m: {name: {s: "Ada"}}}, so integers and doubles, strings and
// references, or maps and geo points never decode into one another.
const (
	tagNull      = "n"
	tagBool      = "b"
	tagInteger   = "i"
	tagDouble    = "d"
	tagTimestamp = "t"
	tagString    = "s"
	tagBytes     = "y"
	tagReference = "r"
	tagGeoPoint  = "g"
	tagArray     = "a"
	tagMap       = "m"
)

// record is the stored form of a document.
type record struct {
	Path         string `bson:"_id"`
	Parent       string `bson:"parent"`
	CollectionID string `bson:"collectionId"`
	Fields       bson.M `bson:"fields"`
	CreateTime   int64  `bson:"createTime"`
	UpdateTime   int64  `bson:"updateTime"`
}

func toRecord(doc *firestore.Document) record {
	parent, collectionID := splitPath(doc.Path)
	return record{
		Path:         doc.Path,
		Parent:       parent,
		CollectionID: collectionID,
		Fields:       encodeFields(doc.Fields),
		CreateTime:   doc.CreateTime.UnixNano(),
		UpdateTime:   doc.UpdateTime.UnixNano(),
	}
}

func (r record) document() (*firestore.Document, error) {
	fields, err := decodeFields(r.Fields)
	if err != nil {
		return nil, apperrors.NewInternalError("corrupt stored document").WithDetail("path", r.Path).WithCause(err)
	}
	return &firestore.Document{
		Path:       r.Path,
		Fields:     fields,
		CreateTime: time.Unix(0, r.CreateTime).UTC(),
		UpdateTime: time.Unix(0, r.UpdateTime).UTC(),
	}, nil
}

// splitPath returns the owning document path and the collection id of a
// document path: "users/ada/posts/p1" gives ("users/ada", "posts").
func splitPath(path string) (parent, collectionID string) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return "", ""
	}
	return strings.Join(segments[:len(segments)-2], "/"), segments[len(segments)-2]
}

func encodeFields(fields firestore.Fields) bson.M {
	out := make(bson.M, len(fields))
	for k, v := range fields {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v firestore.Value) bson.M {
	switch v.Kind() {
	case firestore.KindBool:
		return bson.M{tagBool: v.AsBool()}
	case firestore.KindInteger:
		return bson.M{tagInteger: v.AsInteger()}
	case firestore.KindDouble:
		return bson.M{tagDouble: v.AsDouble()}
	case firestore.KindTimestamp:
		return bson.M{tagTimestamp: v.AsTime().UnixMicro()}
	case firestore.KindString:
		return bson.M{tagString: v.AsString()}
	case firestore.KindBytes:
		return bson.M{tagBytes: primitive.Binary{Data: v.AsBytes()}}
	case firestore.KindReference:
		return bson.M{tagReference: v.AsReference()}
	case firestore.KindGeoPoint:
		g := v.AsGeoPoint()
		return bson.M{tagGeoPoint: bson.A{g.Latitude, g.Longitude}}
	case firestore.KindArray:
		values := v.AsArray()
		arr := make(bson.A, len(values))
		for i, e := range values {
			arr[i] = encodeValue(e)
		}
		return bson.M{tagArray: arr}
	case firestore.KindMap:
		return bson.M{tagMap: encodeFields(v.AsMap())}
	}
	return bson.M{tagNull: nil}
}

func decodeFields(raw interface{}) (firestore.Fields, error) {
	entries, err := asMap(raw)
	if err != nil {
		return nil, err
	}
	fields := make(firestore.Fields, len(entries))
	for k, e := range entries {
		v, err := decodeValue(e)
		if err != nil {
			return nil, err
		}
		fields[k] = v
	}
	return fields, nil
}

func decodeValue(raw interface{}) (firestore.Value, error) {
	entries, err := asMap(raw)
	if err != nil {
		return firestore.Value{}, err
	}
	if len(entries) != 1 {
		return firestore.Value{}, apperrors.NewInternalError("stored value must carry exactly one tag")
	}
	for tag, body := range entries {
		switch tag {
		case tagNull:
			return firestore.NullValue(), nil
		case tagBool:
			b, ok := body.(bool)
			if !ok {
				return firestore.Value{}, badTag(tag)
			}
			return firestore.BoolValue(b), nil
		case tagInteger:
			i, ok := asInt64(body)
			if !ok {
				return firestore.Value{}, badTag(tag)
			}
			return firestore.IntegerValue(i), nil
		case tagDouble:
			f, ok := asFloat64(body)
			if !ok {
				return firestore.Value{}, badTag(tag)
			}
			return firestore.DoubleValue(f), nil
		case tagTimestamp:
			us, ok := asInt64(body)
			if !ok {
				return firestore.Value{}, badTag(tag)
			}
			return firestore.TimestampValue(time.UnixMicro(us)), nil
		case tagString:
			s, ok := body.(string)
			if !ok {
				return firestore.Value{}, badTag(tag)
			}
			return firestore.StringValue(s), nil
		case tagBytes:
			switch b := body.(type) {
			case primitive.Binary:
				return firestore.BytesValue(b.Data), nil
			case []byte:
				return firestore.BytesValue(b), nil
			}
			return firestore.Value{}, badTag(tag)
		case tagReference:
			s, ok := body.(string)
			if !ok {
				return firestore.Value{}, badTag(tag)
			}
			return firestore.ReferenceValue(s), nil
		case tagGeoPoint:
			arr, ok := asArray(body)
			if !ok || len(arr) != 2 {
				return firestore.Value{}, badTag(tag)
			}
			lat, ok1 := asFloat64(arr[0])
			lng, ok2 := asFloat64(arr[1])
			if !ok1 || !ok2 {
				return firestore.Value{}, badTag(tag)
			}
			return firestore.GeoPointValue(firestore.GeoPoint{Latitude: lat, Longitude: lng}), nil
		case tagArray:
			arr, ok := asArray(body)
			if !ok {
				return firestore.Value{}, badTag(tag)
			}
			values := make([]firestore.Value, len(arr))
			for i, e := range arr {
				v, err := decodeValue(e)
				if err != nil {
					return firestore.Value{}, err
				}
				values[i] = v
			}
			return firestore.ArrayValue(values...), nil
		case tagMap:
			fields, err := decodeFields(body)
			if err != nil {
				return firestore.Value{}, err
			}
			return firestore.MapValue(fields), nil
		}
		return firestore.Value{}, apperrors.NewInternalError("unknown stored value tag '" + tag + "'")
	}
	return firestore.Value{}, nil
}

func badTag(tag string) error {
	return apperrors.NewInternalError("malformed stored value").WithDetail("tag", tag)
}

// asMap accepts both document shapes the driver decodes into.
func asMap(raw interface{}) (map[string]interface{}, error) {
	switch m := raw.(type) {
	case bson.M:
		return m, nil
	case map[string]interface{}:
		return m, nil
	case bson.D:
		out := make(map[string]interface{}, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, nil
	case nil:
		return map[string]interface{}{}, nil
	}
	return nil, apperrors.NewInternalError("stored value is not a document")
}

func asArray(raw interface{}) ([]interface{}, bool) {
	switch a := raw.(type) {
	case bson.A:
		return a, true
	case []interface{}:
		return a, true
	}
	return nil, false
}

func asInt64(raw interface{}) (int64, bool) {
	switch n := raw.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat64(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
