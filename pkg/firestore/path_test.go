package firestore

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// normalize drops one leading and one trailing slash.
func normalize(p string) string {
	return strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/")
}

func TestParsePath_RoundTripsToNormalForm(t *testing.T) {
	for _, p := range []string{
		"users",
		"users/alovelace",
		"/users/alovelace",
		"users/alovelace/",
		"/users/alovelace/posts/",
		"a b/c-d/(e)",
	} {
		parsed, err := ParsePath(p)
		require.NoError(t, err, p)
		assert.Equal(t, normalize(p), parsed.String(), p)

		again, err := ParsePath(parsed.String())
		require.NoError(t, err)
		assert.True(t, again.Equal(parsed))
	}
}

func TestParsePath_Invalid(t *testing.T) {
	for _, p := range []string{
		"",
		"/",
		"//users",
		"users//alovelace",
		"users/alovelace//",
		"users/../secrets",
		"users/./x",
		"__internal__/x",
		"users/" + strings.Repeat("x", 1501),
	} {
		_, err := ParsePath(p)
		require.Error(t, err, p)
		assert.True(t, errors.Is(err, ErrInvalidPath), p)
	}
}

func TestPath_Kinds(t *testing.T) {
	col, err := ParsePath("users")
	require.NoError(t, err)
	assert.True(t, col.IsCollection())
	assert.False(t, col.IsDocument())
	assert.Equal(t, "users", col.LastSegment())
	assert.True(t, col.Parent().IsRoot())

	doc, err := ParsePath("users/ada")
	require.NoError(t, err)
	assert.True(t, doc.IsDocument())
	assert.Equal(t, "users", doc.Parent().String())
	assert.True(t, col.IsPrefixOf(doc))
	assert.False(t, doc.IsPrefixOf(col))
}

func TestJoinPath(t *testing.T) {
	users, _ := ParsePath("users")

	p, err := JoinPath(users, "ada/posts")
	require.NoError(t, err)
	assert.Equal(t, "users/ada/posts", p.String())
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, "users", users.String(), "parent must not change")

	p, err = JoinPath(RootPath, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", p.String())

	_, err = JoinPath(users, "a//b")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestParseFieldPath(t *testing.T) {
	fp, err := ParseFieldPath("address.city")
	require.NoError(t, err)
	assert.Equal(t, FieldPath{"address", "city"}, fp)
	assert.Equal(t, "address.city", fp.String())
	assert.True(t, fp.HasPrefix(FieldPath{"address"}))

	fp, err = ParseFieldPath(DocumentID)
	require.NoError(t, err)
	assert.True(t, fp.isDocumentID())

	for _, bad := range []string{"", ".a", "a.", "a..b", "a/b", "__secret", "a[0]"} {
		_, err := ParseFieldPath(bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, bad)
	}
}
