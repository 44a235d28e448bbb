package firestore

import (
	"strings"
	"testing"

	"firestore-client/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourceName_Valid(t *testing.T) {
	info, err := ParseResourceName("projects/proj1/databases/(default)/documents/col1/doc1")
	require.NoError(t, err)
	assert.Equal(t, "proj1", info.ProjectID)
	assert.Equal(t, "(default)", info.DatabaseID)
	assert.Equal(t, "col1/doc1", info.DocumentPath)
	assert.True(t, info.IsDocument)
	assert.False(t, info.IsCollection)
	assert.Equal(t, []string{"col1", "doc1"}, info.Segments)
}

func TestParseResourceName_Root(t *testing.T) {
	info, err := ParseResourceName("projects/p/databases/d/documents")
	require.NoError(t, err)
	assert.Empty(t, info.DocumentPath)
	assert.False(t, info.IsDocument)
	assert.False(t, info.IsCollection)
}

func TestParseResourceName_Invalid(t *testing.T) {
	for _, name := range []string{
		"",
		"invalid/path",
		"projects/p/databases/d/documents/users//ada",
		"projects/p@x/databases/d/documents/users",
		"projects/p/databases/d/documents/__users__",
	} {
		_, err := ParseResourceName(name)
		assert.Error(t, err, name)
		assert.Equal(t, errors.ErrorTypeInvalidPath, errors.TypeOf(err), name)
	}
}

func TestBuildResourceName(t *testing.T) {
	assert.Equal(t, "projects/p/databases/d/documents", BuildResourceName("p", "d", ""))
	assert.Equal(t, "projects/p/databases/d/documents/users/ada", BuildResourceName("p", "d", "users/ada"))
}

func TestValidateSegment(t *testing.T) {
	assert.Nil(t, ValidateSegment("alovelace"))
	assert.Nil(t, ValidateSegment("with space"))
	assert.NotNil(t, ValidateSegment(""))
	assert.NotNil(t, ValidateSegment(".."))
	assert.NotNil(t, ValidateSegment("__name__"))
	assert.NotNil(t, ValidateSegment(strings.Repeat("a", MaxSegmentLength+1)))
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID("abc-123_X"))
	assert.True(t, IsValidID(DefaultDatabaseID))
	assert.False(t, IsValidID(""))
	assert.False(t, IsValidID("a@b"))
}

func TestSplitCollectionPath(t *testing.T) {
	parent, id, ok := SplitCollectionPath("users/ada/posts/p1")
	assert.True(t, ok)
	assert.Equal(t, "users/ada", parent)
	assert.Equal(t, "posts", id)

	parent, id, ok = SplitCollectionPath("users/ada")
	assert.True(t, ok)
	assert.Empty(t, parent)
	assert.Equal(t, "users", id)

	_, _, ok = SplitCollectionPath("users")
	assert.False(t, ok)
}

func TestIsDocumentPath_IsCollectionPath(t *testing.T) {
	assert.True(t, IsDocumentPath("col1/doc1"))
	assert.False(t, IsDocumentPath("col1"))
	assert.True(t, IsCollectionPath("col1"))
	assert.False(t, IsCollectionPath("col1/doc1"))
	assert.False(t, IsCollectionPath(""))
	assert.Equal(t, "a/b", AppendToPath("a", "b"))
	assert.Equal(t, "b", AppendToPath("", "b"))
}
