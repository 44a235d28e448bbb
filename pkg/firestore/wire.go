package firestore

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"time"

	apperrors "firestore-client/internal/shared/errors"
)

// MarshalJSON encodes the value in the typed form used on the wire, for example
// {"integerValue":"5"} or {"mapValue":{"fields":{...}}}.
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		key string
		val interface{}
	)
	switch v.kind {
	case KindNull:
		key, val = "nullValue", nil
	case KindBool:
		key, val = "booleanValue", v.b
	case KindInteger:
		key, val = "integerValue", strconv.FormatInt(v.i, 10)
	case KindDouble:
		key = "doubleValue"
		switch {
		case math.IsNaN(v.f):
			val = "NaN"
		case math.IsInf(v.f, 1):
			val = "Infinity"
		case math.IsInf(v.f, -1):
			val = "-Infinity"
		default:
			val = v.f
		}
	case KindTimestamp:
		key, val = "timestampValue", v.t.Format(time.RFC3339Nano)
	case KindString:
		key, val = "stringValue", v.s
	case KindBytes:
		key, val = "bytesValue", base64.StdEncoding.EncodeToString(v.by)
	case KindReference:
		key, val = "referenceValue", v.s
	case KindGeoPoint:
		key, val = "geoPointValue", v.g
	case KindArray:
		values := v.a
		if values == nil {
			values = []Value{}
		}
		key, val = "arrayValue", map[string]interface{}{"values": values}
	case KindMap:
		fields := v.m
		if fields == nil {
			fields = Fields{}
		}
		key, val = "mapValue", map[string]interface{}{"fields": fields}
	}
	return json.Marshal(map[string]interface{}{key: val})
}

// UnmarshalJSON decodes the typed wire form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperrors.NewInvalidArgumentError("malformed value").WithCause(err)
	}
	if len(raw) != 1 {
		return apperrors.NewInvalidArgumentError("value must carry exactly one type key")
	}
	for key, body := range raw {
		decoded, err := decodeValue(key, body)
		if err != nil {
			return err
		}
		*v = decoded
	}
	return nil
}

func decodeValue(key string, body json.RawMessage) (Value, error) {
	bad := func(err error) (Value, error) {
		return Value{}, apperrors.NewInvalidArgumentError("malformed " + key).WithCause(err)
	}
	switch key {
	case "nullValue":
		return NullValue(), nil
	case "booleanValue":
		var b bool
		if err := json.Unmarshal(body, &b); err != nil {
			return bad(err)
		}
		return BoolValue(b), nil
	case "integerValue":
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			var n json.Number
			if err := json.Unmarshal(body, &n); err != nil {
				return bad(err)
			}
			s = n.String()
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return bad(err)
		}
		return IntegerValue(i), nil
	case "doubleValue":
		var f float64
		if err := json.Unmarshal(body, &f); err == nil {
			return DoubleValue(f), nil
		}
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return bad(err)
		}
		switch s {
		case "NaN":
			return DoubleValue(math.NaN()), nil
		case "Infinity":
			return DoubleValue(math.Inf(1)), nil
		case "-Infinity":
			return DoubleValue(math.Inf(-1)), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bad(err)
		}
		return DoubleValue(f), nil
	case "timestampValue":
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return bad(err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return bad(err)
		}
		return TimestampValue(t), nil
	case "stringValue":
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return bad(err)
		}
		return StringValue(s), nil
	case "bytesValue":
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return bad(err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return bad(err)
		}
		return Value{kind: KindBytes, by: b}, nil
	case "referenceValue":
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return bad(err)
		}
		return ReferenceValue(s), nil
	case "geoPointValue":
		var g GeoPoint
		if err := json.Unmarshal(body, &g); err != nil {
			return bad(err)
		}
		return GeoPointValue(g), nil
	case "arrayValue":
		var arr struct {
			Values []Value `json:"values"`
		}
		if err := json.Unmarshal(body, &arr); err != nil {
			return bad(err)
		}
		return Value{kind: KindArray, a: arr.Values}, nil
	case "mapValue":
		var m struct {
			Fields Fields `json:"fields"`
		}
		if err := json.Unmarshal(body, &m); err != nil {
			return bad(err)
		}
		if m.Fields == nil {
			m.Fields = Fields{}
		}
		return Value{kind: KindMap, m: m.Fields}, nil
	}
	return Value{}, apperrors.NewInvalidArgumentError("unknown value type " + key)
}
