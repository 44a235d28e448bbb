package firestore

import (
	"fmt"
	"regexp"
	"strings"

	"firestore-client/internal/shared/errors"
)

// PathInfo represents a parsed resource name.
type PathInfo struct {
	ProjectID    string
	DatabaseID   string
	DocumentPath string
	IsDocument   bool
	IsCollection bool
	Segments     []string
}

const (
	// MaxSegmentLength is the byte limit of one path segment.
	MaxSegmentLength = 1500
	// DefaultDatabaseID is the id of the database every project starts with.
	DefaultDatabaseID = "(default)"
)

var (
	// projects/{PROJECT_ID}/databases/{DATABASE_ID}/documents[/{DOCUMENT_PATH}]
	resourceNameRegex = regexp.MustCompile(`^projects/([^/]+)/databases/([^/]+)/documents(?:/(.*))?$`)

	validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_()-]+$`)
	reservedID     = regexp.MustCompile(`^__.*__$`)
)

// ParseResourceName parses projects/{p}/databases/{d}/documents/{path}. The document
// path may be empty, which names the database root.
func ParseResourceName(name string) (*PathInfo, error) {
	if name == "" {
		return nil, errors.NewInvalidPathError("resource name cannot be empty")
	}

	matches := resourceNameRegex.FindStringSubmatch(strings.Trim(name, "/"))
	if len(matches) != 4 {
		return nil, errors.NewInvalidPathError("invalid resource name format").
			WithDetail("expected_format", "projects/{PROJECT_ID}/databases/{DATABASE_ID}/documents/{DOCUMENT_PATH}").
			WithDetail("provided_path", name)
	}

	projectID, databaseID, documentPath := matches[1], matches[2], matches[3]

	if !IsValidID(projectID) {
		return nil, errors.NewInvalidPathError("invalid project ID").WithDetail("project_id", projectID)
	}
	if !IsValidID(databaseID) {
		return nil, errors.NewInvalidPathError("invalid database ID").WithDetail("database_id", databaseID)
	}

	var segments []string
	if documentPath != "" {
		segments = strings.Split(documentPath, "/")
		for i, segment := range segments {
			if err := ValidateSegment(segment); err != nil {
				return nil, err.WithDetail("position", i)
			}
		}
	}

	return &PathInfo{
		ProjectID:    projectID,
		DatabaseID:   databaseID,
		DocumentPath: documentPath,
		IsDocument:   len(segments) > 0 && len(segments)%2 == 0,
		IsCollection: len(segments)%2 == 1,
		Segments:     segments,
	}, nil
}

// BuildResourceName constructs a resource name from components
func BuildResourceName(projectID, databaseID, documentPath string) string {
	root := DatabaseRoot(projectID, databaseID)
	if documentPath == "" {
		return root
	}
	return root + "/" + documentPath
}

// DatabaseRoot returns projects/{p}/databases/{d}/documents.
func DatabaseRoot(projectID, databaseID string) string {
	return fmt.Sprintf("projects/%s/databases/%s/documents", projectID, databaseID)
}

// ValidateSegment checks one collection or document id.
func ValidateSegment(segment string) *errors.AppError {
	switch {
	case segment == "":
		return errors.NewInvalidPathError("path contains an empty segment")
	case segment == "." || segment == "..":
		return errors.NewInvalidPathError("path segment cannot be '.' or '..'").WithDetail("segment", segment)
	case len(segment) > MaxSegmentLength:
		return errors.NewInvalidPathError("path segment exceeds 1500 bytes").WithDetail("segment", segment[:32]+"...")
	case reservedID.MatchString(segment):
		return errors.NewInvalidPathError("path segment matches the reserved __.*__ pattern").WithDetail("segment", segment)
	}
	return nil
}

// IsValidID checks a project or database id.
func IsValidID(id string) bool {
	if id == "" || len(id) > 63 {
		return false
	}
	return validIDPattern.MatchString(id)
}

// SplitCollectionPath splits a document path into its parent document path (possibly
// empty) and its collection id. ok is false for anything that is not a document path.
func SplitCollectionPath(documentPath string) (parent, collectionID string, ok bool) {
	segments := strings.Split(documentPath, "/")
	if documentPath == "" || len(segments)%2 != 0 {
		return "", "", false
	}
	collectionID = segments[len(segments)-2]
	parent = strings.Join(segments[:len(segments)-2], "/")
	return parent, collectionID, true
}

// IsDocumentPath checks if a path represents a document
func IsDocumentPath(path string) bool {
	if path == "" {
		return false
	}
	return strings.Count(path, "/")%2 == 1
}

// IsCollectionPath checks if a path represents a collection
func IsCollectionPath(path string) bool {
	if path == "" {
		return false
	}
	return strings.Count(path, "/")%2 == 0
}

// AppendToPath appends a segment to an existing path
func AppendToPath(basePath, segment string) string {
	if basePath == "" {
		return segment
	}
	return basePath + "/" + segment
}
