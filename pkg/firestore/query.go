package firestore

import (
	"context"
	"strings"

	apperrors "firestore-client/internal/shared/errors"
)

// Query is an immutable query description. Every builder method returns a new
// Query and leaves the receiver untouched, so a base query can be shared.
//
// Builder errors are sticky: the first invalid clause is kept in Err and returned
// by Get and OnSnapshot before anything reaches the transport.
type Query struct {
	c              *Client
	parent         Path
	collectionID   string
	allDescendants bool
	filters        []FilterDescriptor
	orders         []OrderDescriptor
	startAt        *cursor
	endAt          *cursor
	limit          int
	limitToLast    bool
	err            error
}

// Err returns the first error raised while building the query.
func (q Query) Err() error { return q.err }

// clone copies every slice so derived queries never share backing arrays.
func (q Query) clone() Query {
	q.filters = append([]FilterDescriptor(nil), q.filters...)
	q.orders = append([]OrderDescriptor(nil), q.orders...)
	return q
}

func (q Query) fail(err error) Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Where adds a filter. Operators are ==, !=, <, <=, >, >=, array-contains,
// array-contains-any, in and not-in; the last three take a slice.
func (q Query) Where(field string, op Operator, value interface{}) Query {
	if q.err != nil {
		return q
	}
	if _, err := ParseFieldPath(field); err != nil {
		return q.fail(err)
	}
	if !op.valid() {
		return q.fail(apperrors.NewInvalidArgumentError("unknown operator '" + string(op) + "'"))
	}
	v, err := q.filterValue(field, value)
	if err != nil {
		return q.fail(err)
	}
	if op.takesArray() && v.Kind() != KindArray {
		return q.fail(apperrors.NewInvalidArgumentError("operator '" + string(op) + "' needs a slice value"))
	}
	q = q.clone()
	q.filters = append(q.filters, FilterDescriptor{Field: field, Op: op, Value: v})
	return q
}

// filterValue converts a filter operand. Document id filters accept bare ids.
func (q Query) filterValue(field string, value interface{}) (Value, error) {
	if field != DocumentID {
		return ValueOf(value)
	}
	if id, ok := value.(string); ok {
		return q.idReference(id)
	}
	if ids, ok := value.([]string); ok {
		refs := make([]Value, len(ids))
		for i, id := range ids {
			r, err := q.idReference(id)
			if err != nil {
				return Value{}, err
			}
			refs[i] = r
		}
		return ArrayValue(refs...), nil
	}
	return ValueOf(value)
}

func (q Query) idReference(id string) (Value, error) {
	if q.allDescendants || strings.Contains(id, "/") {
		p, err := ParsePath(id)
		if err != nil {
			return Value{}, err
		}
		return ReferenceValue(p.String()), nil
	}
	p, err := JoinPath(q.collectionPath(), id)
	if err != nil {
		return Value{}, err
	}
	return ReferenceValue(p.String()), nil
}

// OrderBy adds a sort clause. Adding a clause after a cursor with explicit values
// fails with INVALID_CURSOR because the cursor no longer matches the clause count.
func (q Query) OrderBy(field string, dir Direction) Query {
	if q.err != nil {
		return q
	}
	if _, err := ParseFieldPath(field); err != nil {
		return q.fail(err)
	}
	if dir == "" {
		dir = Asc
	}
	if dir != Asc && dir != Desc {
		return q.fail(apperrors.NewInvalidArgumentError("unknown direction '" + string(dir) + "'"))
	}
	q = q.clone()
	q.orders = append(q.orders, OrderDescriptor{Field: field, Direction: dir})
	return q.checkCursors()
}

// Limit returns at most n documents from the start of the result.
func (q Query) Limit(n int) Query {
	return q.setLimit(n, false)
}

// LimitToLast returns at most n documents from the end of the result, still in
// query order. It needs at least one OrderBy clause by the time the query runs.
func (q Query) LimitToLast(n int) Query {
	return q.setLimit(n, true)
}

func (q Query) setLimit(n int, last bool) Query {
	if q.err != nil {
		return q
	}
	if n <= 0 {
		return q.fail(apperrors.NewInvalidArgumentError("limit must be positive"))
	}
	q = q.clone()
	q.limit, q.limitToLast = n, last
	return q
}

// StartAt starts the result at the cursor, inclusive. The cursor is either one
// *DocumentSnapshot or one value per OrderBy clause.
func (q Query) StartAt(values ...interface{}) Query {
	return q.setCursor(true, true, values)
}

// StartAfter starts the result after the cursor.
func (q Query) StartAfter(values ...interface{}) Query {
	return q.setCursor(true, false, values)
}

// EndAt ends the result at the cursor, inclusive.
func (q Query) EndAt(values ...interface{}) Query {
	return q.setCursor(false, true, values)
}

// EndBefore ends the result before the cursor.
func (q Query) EndBefore(values ...interface{}) Query {
	return q.setCursor(false, false, values)
}

func (q Query) setCursor(start, inclusive bool, values []interface{}) Query {
	if q.err != nil {
		return q
	}
	cur, err := newCursor(values, inclusive)
	if err != nil {
		return q.fail(err)
	}
	q = q.clone()
	if start {
		q.startAt = cur
	} else {
		q.endAt = cur
	}
	return q.checkCursors()
}

func (q Query) checkCursors() Query {
	for _, cur := range []*cursor{q.startAt, q.endAt} {
		if cur == nil {
			continue
		}
		if _, err := cur.resolve(q, false); err != nil {
			return q.fail(err)
		}
	}
	return q
}

func (q Query) collectionPath() Path {
	if q.parent.IsRoot() {
		return Path{segments: []string{q.collectionID}}
	}
	return q.parent.child(q.collectionID)
}

// Descriptor returns the wire form of the query.
func (q Query) Descriptor() (QueryDescriptor, error) {
	if q.err != nil {
		return QueryDescriptor{}, q.err
	}
	if q.c == nil {
		return QueryDescriptor{}, apperrors.NewInvalidArgumentError("query is not bound to a client")
	}
	if q.limitToLast && len(q.orders) == 0 {
		return QueryDescriptor{}, apperrors.NewInvalidArgumentError("LimitToLast needs at least one OrderBy clause")
	}
	desc := QueryDescriptor{
		Parent:         q.parent.String(),
		CollectionID:   q.collectionID,
		AllDescendants: q.allDescendants,
		Filters:        append([]FilterDescriptor(nil), q.filters...),
		OrderBy:        append([]OrderDescriptor(nil), q.orders...),
		Limit:          q.limit,
		LimitToLast:    q.limitToLast,
	}
	var err error
	if desc.StartAt, err = q.startAt.descriptor(q); err != nil {
		return QueryDescriptor{}, err
	}
	if desc.EndAt, err = q.endAt.descriptor(q); err != nil {
		return QueryDescriptor{}, err
	}
	return desc, nil
}

// IsEqual reports whether both queries belong to the same client and describe
// the same result.
func (q Query) IsEqual(other Query) bool {
	if q.c != other.c {
		return false
	}
	a, errA := q.Descriptor()
	b, errB := other.Descriptor()
	if errA != nil || errB != nil {
		return false
	}
	return a.Fingerprint() == b.Fingerprint()
}

// Get runs the query.
func (q Query) Get(ctx context.Context, opts ...GetOptions) (*QuerySnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.c.getQuery(ctx, q, getOptions(opts))
}

// OnSnapshot listens for result changes. onError may be nil.
func (q Query) OnSnapshot(onNext func(*QuerySnapshot), onError func(error)) (*ListenerRegistration, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.c.listenQuery(q, onNext, onError)
}
