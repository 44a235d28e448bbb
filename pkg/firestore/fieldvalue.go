package firestore

import (
	apperrors "firestore-client/internal/shared/errors"
)

type sentinelKind int

const (
	sentinelDelete sentinelKind = iota
	sentinelServerTimestamp
	sentinelIncrement
	sentinelArrayUnion
	sentinelArrayRemove
)

// FieldValue is a special write value that is resolved by the store instead of
// being written verbatim. Build one with Delete, ServerTimestamp, Increment,
// ArrayUnion or ArrayRemove.
type FieldValue struct {
	kind     sentinelKind
	operand  interface{}
	elements []interface{}
}

// Delete removes the field. Valid in Update and in merging Set calls.
func Delete() FieldValue { return FieldValue{kind: sentinelDelete} }

// ServerTimestamp is replaced by the commit time.
func ServerTimestamp() FieldValue { return FieldValue{kind: sentinelServerTimestamp} }

// Increment adds n to the current numeric value, or sets n when the field is not a number.
func Increment(n interface{}) FieldValue { return FieldValue{kind: sentinelIncrement, operand: n} }

// ArrayUnion appends the elements that are not already present.
func ArrayUnion(elements ...interface{}) FieldValue {
	return FieldValue{kind: sentinelArrayUnion, elements: elements}
}

// ArrayRemove removes every occurrence of the elements.
func ArrayRemove(elements ...interface{}) FieldValue {
	return FieldValue{kind: sentinelArrayRemove, elements: elements}
}

// transform converts a non-delete sentinel into its wire form.
func (fv FieldValue) transform(field FieldPath) (FieldTransform, error) {
	t := FieldTransform{Field: field.String()}
	switch fv.kind {
	case sentinelServerTimestamp:
		t.Kind = TransformServerTimestamp
	case sentinelIncrement:
		v, err := ValueOf(fv.operand)
		if err != nil {
			return t, err
		}
		if _, ok := v.number(); !ok {
			return t, apperrors.NewInvalidArgumentError("Increment needs a number").WithDetail("field", t.Field)
		}
		t.Kind = TransformIncrement
		t.Operand = &v
	case sentinelArrayUnion, sentinelArrayRemove:
		t.Kind = TransformArrayUnion
		if fv.kind == sentinelArrayRemove {
			t.Kind = TransformArrayRemove
		}
		for _, e := range fv.elements {
			v, err := ValueOf(e)
			if err != nil {
				return t, err
			}
			t.Elements = append(t.Elements, v)
		}
	default:
		return t, apperrors.NewInvalidArgumentError("Delete is not a transform")
	}
	return t, nil
}

// writeData is user data split into plain values, deleted paths and transforms.
type writeData struct {
	fields     Fields
	deletes    []FieldPath
	transforms []FieldTransform
}

func splitData(data map[string]interface{}) (*writeData, error) {
	wd := &writeData{fields: Fields{}}
	for key, v := range data {
		if err := wd.add(FieldPath{key}, v); err != nil {
			return nil, err
		}
	}
	return wd, nil
}

// add records v at path, walking nested maps so sentinels may appear at any depth.
func (wd *writeData) add(path FieldPath, v interface{}) error {
	if !isValidFieldName(path[len(path)-1]) {
		return apperrors.NewInvalidArgumentError("invalid field name '" + path[len(path)-1] + "'")
	}
	switch x := v.(type) {
	case FieldValue:
		if x.kind == sentinelDelete {
			wd.deletes = append(wd.deletes, path)
			return nil
		}
		t, err := x.transform(path)
		if err != nil {
			return err
		}
		wd.transforms = append(wd.transforms, t)
		return nil
	case *FieldValue:
		if x == nil {
			wd.fields.set(path, NullValue())
			return nil
		}
		return wd.add(path, *x)
	case map[string]interface{}:
		if len(x) == 0 {
			wd.fields.set(path, MapValue(Fields{}))
			return nil
		}
		for key, e := range x {
			child := append(append(FieldPath{}, path...), key)
			if err := wd.add(child, e); err != nil {
				return err
			}
		}
		return nil
	}
	val, err := ValueOf(v)
	if err != nil {
		return err
	}
	wd.fields.set(path, val)
	return nil
}

// covers reports whether the data mentions path as a value, a deletion or a transform.
func (wd *writeData) covers(path FieldPath) bool {
	if _, ok := wd.fields.Get(path); ok {
		return true
	}
	for _, d := range wd.deletes {
		if d.HasPrefix(path) {
			return true
		}
	}
	for _, t := range wd.transforms {
		if fp, err := ParseFieldPath(t.Field); err == nil && fp.HasPrefix(path) {
			return true
		}
	}
	return false
}
