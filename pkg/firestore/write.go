package firestore

import (
	"sort"
	"strings"
	"time"

	apperrors "firestore-client/internal/shared/errors"
)

// WriteKind is the operation a Write performs.
type WriteKind string

const (
	WriteSet    WriteKind = "set"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
	// WriteVerify only checks its precondition. Transactions send one for every
	// document they read but did not write.
	WriteVerify WriteKind = "verify"
)

// TransformKind names a server-side field transform.
type TransformKind string

const (
	TransformServerTimestamp TransformKind = "serverTimestamp"
	TransformIncrement       TransformKind = "increment"
	TransformArrayUnion      TransformKind = "arrayUnion"
	TransformArrayRemove     TransformKind = "arrayRemove"
)

// FieldTransform is applied after the write's field values.
type FieldTransform struct {
	Field    string        `json:"field"`
	Kind     TransformKind `json:"kind"`
	Operand  *Value        `json:"operand,omitempty"`
	Elements []Value       `json:"elements,omitempty"`
}

// Precondition must hold for the write to apply. A failed precondition aborts the
// whole commit with ABORTED.
type Precondition struct {
	Exists     *bool      `json:"exists,omitempty"`
	UpdateTime *time.Time `json:"updateTime,omitempty"`
}

// Write is one mutation in a commit.
//
// A set write replaces the document unless Merge is true, in which case only the
// Mask paths are touched. An update write always touches only the Mask paths and
// requires the document to exist. A masked path that has no value in Fields is
// deleted.
type Write struct {
	Kind         WriteKind        `json:"kind"`
	Path         string           `json:"path"`
	Fields       Fields           `json:"fields,omitempty"`
	Merge        bool             `json:"merge,omitempty"`
	Mask         []string         `json:"mask,omitempty"`
	Transforms   []FieldTransform `json:"transforms,omitempty"`
	Precondition *Precondition    `json:"precondition,omitempty"`
}

// Validate checks a write received from the wire.
func (w Write) Validate() error {
	switch w.Kind {
	case WriteSet, WriteUpdate, WriteDelete, WriteVerify:
	default:
		return apperrors.NewInvalidArgumentError("unknown write kind '" + string(w.Kind) + "'")
	}
	p, err := ParsePath(w.Path)
	if err != nil {
		return err
	}
	if !p.IsDocument() {
		return apperrors.NewInvalidPathError("write target is not a document path").WithDetail("path", w.Path)
	}
	for _, m := range w.Mask {
		if _, err := ParseFieldPath(m); err != nil {
			return err
		}
	}
	for _, t := range w.Transforms {
		if _, err := ParseFieldPath(t.Field); err != nil {
			return err
		}
		switch t.Kind {
		case TransformServerTimestamp, TransformArrayUnion, TransformArrayRemove:
		case TransformIncrement:
			if t.Operand == nil {
				return apperrors.NewInvalidArgumentError("increment without operand").WithDetail("field", t.Field)
			}
			if _, ok := t.Operand.number(); !ok {
				return apperrors.NewInvalidArgumentError("increment operand must be a number").WithDetail("field", t.Field)
			}
		default:
			return apperrors.NewInvalidArgumentError("unknown transform '" + string(t.Kind) + "'")
		}
	}
	return nil
}

// Apply computes the document that results from applying w to existing, which is
// nil when the document does not exist. A nil result means the document is deleted.
// now stamps update times and server timestamps.
func (w Write) Apply(existing *Document, now time.Time) (*Document, error) {
	if err := w.checkPrecondition(existing); err != nil {
		return nil, err
	}

	switch w.Kind {
	case WriteDelete:
		return nil, nil
	case WriteVerify:
		return existing, nil
	case WriteUpdate:
		if existing == nil {
			return nil, apperrors.NewNotFoundError("document " + w.Path)
		}
	}

	var fields Fields
	if w.Kind == WriteSet && !w.Merge {
		fields = w.Fields.Clone()
		if fields == nil {
			fields = Fields{}
		}
	} else {
		if existing != nil {
			fields = existing.Fields.Clone()
		}
		if fields == nil {
			fields = Fields{}
		}
		for _, m := range w.Mask {
			fp, err := ParseFieldPath(m)
			if err != nil {
				return nil, err
			}
			if v, ok := w.Fields.Get(fp); ok {
				fields.set(fp, v.clone())
			} else {
				fields.remove(fp)
			}
		}
	}

	for _, t := range w.Transforms {
		if err := applyTransform(fields, t, now); err != nil {
			return nil, err
		}
	}

	doc := &Document{Path: w.Path, Fields: fields, CreateTime: now, UpdateTime: now}
	if existing != nil {
		doc.CreateTime = existing.CreateTime
	}
	return doc, nil
}

func (w Write) checkPrecondition(existing *Document) error {
	pc := w.Precondition
	if pc == nil {
		return nil
	}
	if pc.Exists != nil && *pc.Exists != (existing != nil) {
		return apperrors.NewAbortedError("existence precondition failed").WithDetail("path", w.Path)
	}
	if pc.UpdateTime != nil && (existing == nil || !existing.UpdateTime.Equal(*pc.UpdateTime)) {
		return apperrors.NewAbortedError("document changed since it was read").WithDetail("path", w.Path)
	}
	return nil
}

func applyTransform(fields Fields, t FieldTransform, now time.Time) error {
	fp, err := ParseFieldPath(t.Field)
	if err != nil {
		return err
	}
	current, _ := fields.Get(fp)

	switch t.Kind {
	case TransformServerTimestamp:
		fields.set(fp, TimestampValue(now))
	case TransformIncrement:
		if t.Operand == nil {
			return apperrors.NewInvalidArgumentError("increment without operand")
		}
		fields.set(fp, increment(current, *t.Operand))
	case TransformArrayUnion:
		var out []Value
		if current.kind == KindArray {
			out = append(out, current.a...)
		}
		for _, e := range t.Elements {
			if !containsValue(out, e) {
				out = append(out, e)
			}
		}
		fields.set(fp, ArrayValue(out...))
	case TransformArrayRemove:
		var out []Value
		if current.kind == KindArray {
			for _, e := range current.a {
				if !containsValue(t.Elements, e) {
					out = append(out, e)
				}
			}
		}
		fields.set(fp, ArrayValue(out...))
	default:
		return apperrors.NewInvalidArgumentError("unknown transform '" + string(t.Kind) + "'")
	}
	return nil
}

func increment(current, operand Value) Value {
	if _, ok := current.number(); !ok {
		return operand
	}
	if current.kind == KindInteger && operand.kind == KindInteger {
		return IntegerValue(current.i + operand.i)
	}
	a, _ := current.number()
	b, _ := operand.number()
	return DoubleValue(a + b)
}

func containsValue(values []Value, v Value) bool {
	for _, e := range values {
		if e.Equal(v) {
			return true
		}
	}
	return false
}

// newSetWrite builds the write for DocumentReference.Set.
func newSetWrite(path string, data map[string]interface{}, opts SetOptions) (Write, error) {
	if opts.Merge && len(opts.MergeFields) > 0 {
		return Write{}, apperrors.NewInvalidArgumentError("Merge and MergeFields cannot both be set")
	}
	wd, err := splitData(data)
	if err != nil {
		return Write{}, err
	}
	w := Write{Kind: WriteSet, Path: path, Fields: wd.fields, Transforms: wd.transforms}

	switch {
	case opts.Merge:
		w.Merge = true
		paths := append(wd.fields.leafPaths(nil), wd.deletes...)
		w.Mask = maskStrings(paths)
	case len(opts.MergeFields) > 0:
		var mask []FieldPath
		for _, f := range opts.MergeFields {
			fp, err := ParseFieldPath(f)
			if err != nil {
				return Write{}, err
			}
			if !wd.covers(fp) {
				return Write{}, apperrors.NewInvalidArgumentError("merge field '" + f + "' is not present in the data")
			}
			mask = append(mask, fp)
		}
		w.Merge = true
		w.Fields = Fields{}
		for _, fp := range mask {
			if v, ok := wd.fields.Get(fp); ok {
				w.Fields.set(fp, v)
			}
		}
		w.Transforms = nil
		for _, t := range wd.transforms {
			tp, _ := ParseFieldPath(t.Field)
			if underAny(tp, mask) {
				w.Transforms = append(w.Transforms, t)
			}
		}
		var fieldMask []FieldPath
		for _, fp := range mask {
			if !transformOnly(fp, wd) {
				fieldMask = append(fieldMask, fp)
			}
		}
		w.Mask = maskStrings(fieldMask)
	default:
		if len(wd.deletes) > 0 {
			return Write{}, apperrors.NewInvalidArgumentError("Delete() can only be used with Update or a merging Set")
		}
	}
	return w, nil
}

// newUpdateWrite builds the write for DocumentReference.Update. Keys are field
// paths; each named field is replaced as a whole.
func newUpdateWrite(path string, data map[string]interface{}) (Write, error) {
	if len(data) == 0 {
		return Write{}, apperrors.NewInvalidArgumentError("update needs at least one field")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	wd := &writeData{fields: Fields{}}
	var mask []FieldPath
	for _, k := range keys {
		fp, err := ParseFieldPath(k)
		if err != nil {
			return Write{}, err
		}
		if fp.isDocumentID() {
			return Write{}, apperrors.NewInvalidArgumentError("cannot update " + DocumentID)
		}
		for _, prev := range mask {
			if fp.HasPrefix(prev) || prev.HasPrefix(fp) {
				return Write{}, apperrors.NewInvalidArgumentError("conflicting update paths '" + prev.String() + "' and '" + k + "'")
			}
		}
		deletes := len(wd.deletes)
		if err := wd.add(fp, data[k]); err != nil {
			return Write{}, err
		}
		for _, d := range wd.deletes[deletes:] {
			if !d.Equal(fp) {
				return Write{}, apperrors.NewInvalidArgumentError("Delete() can only appear at the top level of update data, found at '" + d.String() + "'")
			}
		}
		mask = append(mask, fp)
	}

	var fieldMask []FieldPath
	for _, fp := range mask {
		if !transformOnly(fp, wd) {
			fieldMask = append(fieldMask, fp)
		}
	}
	return Write{
		Kind:       WriteUpdate,
		Path:       path,
		Fields:     wd.fields,
		Mask:       maskStrings(fieldMask),
		Transforms: wd.transforms,
	}, nil
}

// transformOnly reports whether everything the data says about fp is a transform.
func transformOnly(fp FieldPath, wd *writeData) bool {
	if _, ok := wd.fields.Get(fp); ok {
		return false
	}
	for _, d := range wd.deletes {
		if d.HasPrefix(fp) {
			return false
		}
	}
	for _, t := range wd.transforms {
		if t.Field == fp.String() || strings.HasPrefix(t.Field, fp.String()+".") {
			return true
		}
	}
	return false
}

func underAny(fp FieldPath, prefixes []FieldPath) bool {
	for _, p := range prefixes {
		if fp.HasPrefix(p) {
			return true
		}
	}
	return false
}

func maskStrings(paths []FieldPath) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}
