package firestore

import (
	"strings"

	apperrors "firestore-client/internal/shared/errors"
)

const (
	// MaxFieldPathDepth is the deepest map nesting a field path may address.
	MaxFieldPathDepth = 100
	// MaxFieldNameLength is the byte limit of one field name.
	MaxFieldNameLength = 1500
	// DocumentID is the pseudo field that orders and filters by document path.
	DocumentID = "__name__"
)

// FieldPath addresses a possibly nested field, e.g. "customer.address.city".
type FieldPath []string

// ParseFieldPath splits a dot-separated field path and validates each segment.
func ParseFieldPath(path string) (FieldPath, error) {
	if path == "" {
		return nil, apperrors.NewInvalidArgumentError("field path cannot be empty")
	}
	if path == DocumentID {
		return FieldPath{DocumentID}, nil
	}
	if strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return nil, apperrors.NewInvalidArgumentError("invalid field path format").WithDetail("field_path", path)
	}

	segments := strings.Split(path, ".")
	if len(segments) > MaxFieldPathDepth {
		return nil, apperrors.NewInvalidArgumentError("field path too deep").WithDetail("field_path", path)
	}
	for _, segment := range segments {
		if !isValidFieldName(segment) {
			return nil, apperrors.NewInvalidArgumentError("invalid field name '" + segment + "'").
				WithDetail("field_path", path)
		}
	}
	return FieldPath(segments), nil
}

func mustFieldPath(path string) FieldPath {
	fp, err := ParseFieldPath(path)
	if err != nil {
		panic(err)
	}
	return fp
}

func (fp FieldPath) String() string {
	return strings.Join(fp, ".")
}

// Equal compares segment by segment.
func (fp FieldPath) Equal(other FieldPath) bool {
	if len(fp) != len(other) {
		return false
	}
	for i := range fp {
		if fp[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix addresses fp or one of its ancestors.
func (fp FieldPath) HasPrefix(prefix FieldPath) bool {
	if len(prefix) > len(fp) {
		return false
	}
	return prefix.Equal(fp[:len(prefix)])
}

func (fp FieldPath) isDocumentID() bool {
	return len(fp) == 1 && fp[0] == DocumentID
}

func isValidFieldName(name string) bool {
	if name == "" || len(name) > MaxFieldNameLength {
		return false
	}
	if strings.ContainsAny(name, "/[]*`") {
		return false
	}
	return !strings.HasPrefix(name, "__")
}
