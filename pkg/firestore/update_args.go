package firestore

import (
	"context"
	"fmt"

	apperrors "firestore-client/internal/shared/errors"
)

// UpdateFields is Update with alternating field/value arguments:
//
//	ref.UpdateFields(ctx, "name", "Ada", "address.city", "London")
//
// Fields may be given as dotted strings or as FieldPath values.
func (d *DocumentReference) UpdateFields(ctx context.Context, field interface{}, value interface{}, moreFieldsAndValues ...interface{}) error {
	data, err := fieldValuePairs(field, value, moreFieldsAndValues)
	if err != nil {
		return err
	}
	return d.Update(ctx, data)
}

func fieldValuePairs(field, value interface{}, more []interface{}) (map[string]interface{}, error) {
	if len(more)%2 != 0 {
		return nil, apperrors.NewInvalidArgumentError("UpdateFields needs an even number of field and value arguments")
	}
	args := append([]interface{}{field, value}, more...)
	data := make(map[string]interface{}, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		var key string
		switch f := args[i].(type) {
		case string:
			key = f
		case FieldPath:
			key = f.String()
		default:
			return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("argument %d must be a field path, got %T", i, args[i]))
		}
		if _, dup := data[key]; dup {
			return nil, apperrors.NewInvalidArgumentError("field '" + key + "' given twice")
		}
		data[key] = args[i+1]
	}
	return data, nil
}
