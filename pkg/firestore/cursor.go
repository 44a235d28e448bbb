package firestore

import (
	"fmt"

	apperrors "firestore-client/internal/shared/errors"
)

// cursor is a query bound given either as a document snapshot or as one raw value
// per sort clause. Values are resolved against the sort clauses in effect when the
// query runs, so OrderBy may follow a snapshot cursor.
type cursor struct {
	raw       []interface{}
	snapshot  *DocumentSnapshot
	inclusive bool
}

func newCursor(values []interface{}, inclusive bool) (*cursor, error) {
	if len(values) == 0 {
		return nil, apperrors.NewInvalidCursorError("cursor needs a document snapshot or at least one value")
	}
	if snap, ok := values[0].(*DocumentSnapshot); ok {
		if len(values) > 1 {
			return nil, apperrors.NewInvalidCursorError("a snapshot cursor takes no further values")
		}
		if !snap.Exists() {
			return nil, apperrors.NewInvalidCursorError("cannot use a snapshot of a missing document as a cursor")
		}
		return &cursor{snapshot: snap, inclusive: inclusive}, nil
	}
	return &cursor{raw: append([]interface{}(nil), values...), inclusive: inclusive}, nil
}

// resolve extracts the cursor values positionally, one per sort clause. final is
// set when the query is about to run; a snapshot cursor with no sort clause is
// only an error then.
func (c *cursor) resolve(q Query, final bool) ([]Value, error) {
	if c.snapshot != nil {
		if len(q.orders) == 0 && final {
			return nil, apperrors.NewInvalidCursorError("a snapshot cursor needs at least one OrderBy clause")
		}
		values := make([]Value, 0, len(q.orders))
		for _, o := range q.orders {
			v, ok := c.snapshot.Value(o.Field)
			if !ok {
				return nil, apperrors.NewInvalidCursorError("cursor snapshot has no field '" + o.Field + "'").
					WithDetail("document", c.snapshot.Ref.Path())
			}
			values = append(values, v)
		}
		return values, nil
	}

	if len(c.raw) != len(q.orders) {
		return nil, apperrors.NewInvalidCursorError(fmt.Sprintf(
			"cursor has %d values but the query has %d OrderBy clauses", len(c.raw), len(q.orders)))
	}
	values := make([]Value, len(c.raw))
	for i, raw := range c.raw {
		v, err := q.filterValue(q.orders[i].Field, raw)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (c *cursor) descriptor(q Query) (*CursorDescriptor, error) {
	if c == nil {
		return nil, nil
	}
	values, err := c.resolve(q, true)
	if err != nil {
		return nil, err
	}
	if c.snapshot != nil {
		// The snapshot's own path separates it from documents with equal sort values.
		values = append(values, ReferenceValue(c.snapshot.Ref.Path()))
	}
	return &CursorDescriptor{Values: values, Inclusive: c.inclusive}, nil
}
