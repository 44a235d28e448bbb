package firestore

import (
	"encoding/json"
	"sort"
	"strings"

	apperrors "firestore-client/internal/shared/errors"
	resource "firestore-client/internal/shared/firestore"
)

// Operator is a filter comparison.
type Operator string

const (
	OpEqual              Operator = "=="
	OpNotEqual           Operator = "!="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpArrayContains      Operator = "array-contains"
	OpArrayContainsAny   Operator = "array-contains-any"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not-in"
)

func (op Operator) valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual,
		OpArrayContains, OpArrayContainsAny, OpIn, OpNotIn:
		return true
	}
	return false
}

// takesArray reports operators whose operand lists alternatives.
func (op Operator) takesArray() bool {
	return op == OpArrayContainsAny || op == OpIn || op == OpNotIn
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// FilterDescriptor is one where clause.
type FilterDescriptor struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value Value    `json:"value"`
}

// OrderDescriptor is one sort clause.
type OrderDescriptor struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// CursorDescriptor bounds a result range by sort-clause values.
type CursorDescriptor struct {
	Values    []Value `json:"values"`
	Inclusive bool    `json:"inclusive"`
}

// QueryDescriptor is the serializable form of a query. Every transport evaluates
// it with Apply so that results agree across backends.
type QueryDescriptor struct {
	// Parent is the document path that owns the collection, empty for the root.
	Parent       string `json:"parent,omitempty"`
	CollectionID string `json:"collectionId"`
	// AllDescendants selects every collection named CollectionID below Parent.
	AllDescendants bool               `json:"allDescendants,omitempty"`
	Filters        []FilterDescriptor `json:"filters,omitempty"`
	OrderBy        []OrderDescriptor  `json:"orderBy,omitempty"`
	StartAt        *CursorDescriptor  `json:"startAt,omitempty"`
	EndAt          *CursorDescriptor  `json:"endAt,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	LimitToLast    bool               `json:"limitToLast,omitempty"`
}

// Fingerprint is the canonical serialization of the descriptor, used as a cache key.
func (q QueryDescriptor) Fingerprint() string {
	b, err := json.Marshal(q)
	if err != nil {
		return q.CollectionPath()
	}
	return string(b)
}

// CollectionPath is the path of the queried collection, or of the collection
// group root for AllDescendants queries.
func (q QueryDescriptor) CollectionPath() string {
	return resource.AppendToPath(q.Parent, q.CollectionID)
}

// Validate checks a descriptor received from the wire.
func (q QueryDescriptor) Validate() error {
	if q.CollectionID == "" {
		return apperrors.NewInvalidArgumentError("query needs a collection id")
	}
	if err := resource.ValidateSegment(q.CollectionID); err != nil {
		return err
	}
	if q.Parent != "" {
		p, err := ParsePath(q.Parent)
		if err != nil {
			return err
		}
		if !p.IsDocument() {
			return apperrors.NewInvalidPathError("query parent must be a document path").WithDetail("parent", q.Parent)
		}
	}
	for _, f := range q.Filters {
		if _, err := ParseFieldPath(f.Field); err != nil {
			return err
		}
		if !f.Op.valid() {
			return apperrors.NewInvalidArgumentError("unknown operator '" + string(f.Op) + "'")
		}
		if f.Op.takesArray() && f.Value.Kind() != KindArray {
			return apperrors.NewInvalidArgumentError("operator '" + string(f.Op) + "' needs an array value")
		}
	}
	for _, o := range q.OrderBy {
		if _, err := ParseFieldPath(o.Field); err != nil {
			return err
		}
		if o.Direction != Asc && o.Direction != Desc {
			return apperrors.NewInvalidArgumentError("unknown direction '" + string(o.Direction) + "'")
		}
	}
	for _, c := range []*CursorDescriptor{q.StartAt, q.EndAt} {
		if c == nil || len(c.Values) <= len(q.OrderBy) {
			continue
		}
		if len(c.Values) > len(q.OrderBy)+1 || c.Values[len(q.OrderBy)].Kind() != KindReference {
			return apperrors.NewInvalidCursorError("cursor has more values than order by clauses")
		}
	}
	if q.Limit < 0 {
		return apperrors.NewInvalidArgumentError("limit cannot be negative")
	}
	if q.LimitToLast && len(q.OrderBy) == 0 {
		return apperrors.NewInvalidArgumentError("limitToLast needs an order by clause")
	}
	return nil
}

// Contains reports whether documentPath lies in the queried collection(s),
// regardless of filters.
func (q QueryDescriptor) Contains(documentPath string) bool {
	parent, collectionID, ok := resource.SplitCollectionPath(documentPath)
	if !ok || collectionID != q.CollectionID {
		return false
	}
	if !q.AllDescendants {
		return parent == q.Parent
	}
	return q.Parent == "" || parent == q.Parent || strings.HasPrefix(parent, q.Parent+"/")
}

// Matches reports whether doc belongs to the result set, ignoring cursors and limits.
func (q QueryDescriptor) Matches(doc *Document) bool {
	if doc == nil || !q.Contains(doc.Path) {
		return false
	}
	for _, f := range q.Filters {
		if !f.matches(doc) {
			return false
		}
	}
	for _, o := range q.OrderBy {
		if _, ok := fieldValue(doc, o.Field); !ok {
			return false
		}
	}
	return true
}

// Apply filters, sorts, bounds and limits docs. docs may hold documents from
// outside the queried collection; they are skipped. The input is not modified.
func (q QueryDescriptor) Apply(docs []*Document) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return q.compare(out[i], out[j]) < 0
	})

	if q.StartAt != nil {
		out = filterDocs(out, func(d *Document) bool {
			c := q.compareToCursor(d, q.StartAt.Values)
			return c > 0 || (c == 0 && q.StartAt.Inclusive)
		})
	}
	if q.EndAt != nil {
		out = filterDocs(out, func(d *Document) bool {
			c := q.compareToCursor(d, q.EndAt.Values)
			return c < 0 || (c == 0 && q.EndAt.Inclusive)
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		if q.LimitToLast {
			out = out[len(out)-q.Limit:]
		} else {
			out = out[:q.Limit]
		}
	}
	return out
}

// compare orders two documents by the sort clauses, then by path in the direction
// of the last clause.
func (q QueryDescriptor) compare(a, b *Document) int {
	last := Asc
	for _, o := range q.OrderBy {
		av, _ := fieldValue(a, o.Field)
		bv, _ := fieldValue(b, o.Field)
		c := CompareValues(av, bv)
		if o.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		last = o.Direction
	}
	c := compareSegments(strings.Split(a.Path, "/"), strings.Split(b.Path, "/"))
	if last == Desc {
		c = -c
	}
	return c
}

// compareToCursor compares d with a cursor position. A value past the sort
// clauses is the cursor document's path and orders like compare's tie-break.
func (q QueryDescriptor) compareToCursor(d *Document, values []Value) int {
	last := Asc
	for i, cv := range values {
		if i >= len(q.OrderBy) {
			c := compareSegments(strings.Split(d.Path, "/"), strings.Split(cv.s, "/"))
			if last == Desc {
				c = -c
			}
			return c
		}
		o := q.OrderBy[i]
		dv, _ := fieldValue(d, o.Field)
		c := CompareValues(dv, cv)
		if o.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		last = o.Direction
	}
	return 0
}

func (f FilterDescriptor) matches(doc *Document) bool {
	v, ok := fieldValue(doc, f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return v.Equal(f.Value)
	case OpNotEqual:
		// Null never satisfies an inequality, as with a missing field.
		return v.kind != KindNull && !v.Equal(f.Value)
	case OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		if typeOrder(v.kind) != typeOrder(f.Value.kind) {
			return false
		}
		c := CompareValues(v, f.Value)
		switch f.Op {
		case OpLessThan:
			return c < 0
		case OpLessThanOrEqual:
			return c <= 0
		case OpGreaterThan:
			return c > 0
		}
		return c >= 0
	case OpArrayContains:
		return v.kind == KindArray && containsValue(v.a, f.Value)
	case OpArrayContainsAny:
		if v.kind != KindArray {
			return false
		}
		for _, want := range f.Value.a {
			if containsValue(v.a, want) {
				return true
			}
		}
		return false
	case OpIn:
		return containsValue(f.Value.a, v)
	case OpNotIn:
		return v.kind != KindNull && !containsValue(f.Value.a, v)
	}
	return false
}

// fieldValue resolves a field of doc. DocumentID resolves to a reference to doc.
func fieldValue(doc *Document, field string) (Value, bool) {
	if field == DocumentID {
		return ReferenceValue(doc.Path), true
	}
	fp, err := ParseFieldPath(field)
	if err != nil {
		return Value{}, false
	}
	return doc.Fields.Get(fp)
}

func filterDocs(docs []*Document, keep func(*Document) bool) []*Document {
	out := docs[:0:0]
	for _, d := range docs {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
