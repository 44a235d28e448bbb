package firestore

import (
	"strings"

	apperrors "firestore-client/internal/shared/errors"
	resource "firestore-client/internal/shared/firestore"
)

// Path is an immutable sequence of path segments relative to the database root.
// An even number of segments names a document, an odd number a collection.
type Path struct {
	segments []string
}

// RootPath is the database root, the parent of every top-level collection.
var RootPath = Path{}

// ParsePath parses a slash separated path. A single leading and a single trailing
// slash are dropped; any other empty segment is an INVALID_PATH error.
func ParsePath(s string) (Path, error) {
	trimmed := strings.TrimPrefix(s, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return Path{}, apperrors.NewInvalidPathError("path cannot be empty").WithDetail("path", s)
	}

	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if err := resource.ValidateSegment(segment); err != nil {
			return Path{}, err.WithDetail("path", s).WithDetail("position", i)
		}
	}
	return Path{segments: segments}, nil
}

// JoinPath appends a relative path, which may itself hold several segments.
func JoinPath(parent Path, segment string) (Path, error) {
	child, err := ParsePath(segment)
	if err != nil {
		return Path{}, err
	}
	segments := make([]string, 0, len(parent.segments)+len(child.segments))
	segments = append(segments, parent.segments...)
	segments = append(segments, child.segments...)
	return Path{segments: segments}, nil
}

// String returns the normalized slash separated form.
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// Segments returns a copy of the segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

func (p Path) Len() int { return len(p.segments) }

func (p Path) IsRoot() bool { return len(p.segments) == 0 }

func (p Path) IsDocument() bool { return len(p.segments) > 0 && len(p.segments)%2 == 0 }

func (p Path) IsCollection() bool { return len(p.segments)%2 == 1 }

// LastSegment is the id of the document or collection the path names.
func (p Path) LastSegment() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent drops the last segment. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return p
	}
	return Path{segments: p.segments[:len(p.segments)-1 : len(p.segments)-1]}
}

func (p Path) Equal(other Path) bool {
	return compareSegments(p.segments, other.segments) == 0
}

// IsPrefixOf reports whether other is p or lies below p.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

func (p Path) child(id string) Path {
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, p.segments...)
	return Path{segments: append(segments, id)}
}
