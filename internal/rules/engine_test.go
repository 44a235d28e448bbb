package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `
rules:
  - match: users/{userId}
    priority: 10
    allow:
      read: auth != null
      write: auth != null && auth.uid == variables.userId
    deny:
      delete: "true"
  - match: users/{userId}/{rest=**}
    allow:
      read: auth != null && auth.uid == variables.userId
  - match: public/**
    allow:
      read: "true"
  - match: posts/{postId}
    allow:
      get: resource != null && resource.data.published == true
      create: request.resource.data.title.size() > 0 && request.resource.data.author == auth.uid
      update: exists("admins/" + auth.uid)
      list: "true"
`

func newTestEngine(t *testing.T, rules string) *Engine {
	t.Helper()
	e, err := NewEngine(logger.NewNopLogger())
	require.NoError(t, err)
	rs, err := ParseYAML([]byte(rules))
	require.NoError(t, err)
	require.NoError(t, e.Load(rs))
	return e
}

type fakeLookup map[string]firestore.Fields

func (f fakeLookup) LookupDocument(_ context.Context, path string) (firestore.Fields, bool, error) {
	fields, ok := f[path]
	return fields, ok, nil
}

func TestEngine_Evaluate(t *testing.T) {
	e := newTestEngine(t, testRules)
	e.SetDocumentLookup(fakeLookup{"admins/root": {"role": firestore.StringValue("admin")}})

	ada := &Auth{UID: "ada"}
	root := &Auth{UID: "root"}
	published := firestore.Fields{"published": firestore.BoolValue(true)}
	draft := firestore.Fields{"published": firestore.BoolValue(false)}

	cases := []struct {
		name    string
		req     Request
		allowed bool
		by      string
	}{
		{"read own profile", Request{Operation: OperationGet, Path: "users/ada", Auth: ada}, true, "users/{userId}"},
		{"read anonymous", Request{Operation: OperationGet, Path: "users/ada"}, false, ""},
		{"update own profile", Request{Operation: OperationUpdate, Path: "users/ada", Auth: ada}, true, "users/{userId}"},
		{"update other profile", Request{Operation: OperationUpdate, Path: "users/bob", Auth: ada}, false, ""},
		{"delete denied", Request{Operation: OperationDelete, Path: "users/ada", Auth: ada}, false, ""},
		{"nested own", Request{Operation: OperationGet, Path: "users/ada/posts/p1", Auth: ada}, true, "users/{userId}/{rest=**}"},
		{"nested other", Request{Operation: OperationGet, Path: "users/bob/posts/p1", Auth: ada}, false, ""},
		{"public glob", Request{Operation: OperationList, Path: "public/news/items"}, true, "public/**"},
		{"list posts", Request{Operation: OperationList, Path: "posts"}, true, "posts/{postId}"},
		{"list users", Request{Operation: OperationList, Path: "users", Auth: ada}, true, "users/{userId}"},
		{"list unknown", Request{Operation: OperationList, Path: "secrets"}, false, ""},
		{"public write", Request{Operation: OperationCreate, Path: "public/x"}, false, ""},
		{"published post", Request{Operation: OperationGet, Path: "posts/p1", Resource: published}, true, "posts/{postId}"},
		{"draft post", Request{Operation: OperationGet, Path: "posts/p1", Resource: draft}, false, ""},
		{"missing post", Request{Operation: OperationGet, Path: "posts/p1"}, false, ""},
		{"create post", Request{Operation: OperationCreate, Path: "posts/p2", Auth: ada, Data: firestore.Fields{
			"title":  firestore.StringValue("Notes"),
			"author": firestore.StringValue("ada"),
		}}, true, "posts/{postId}"},
		{"create post as someone else", Request{Operation: OperationCreate, Path: "posts/p2", Auth: ada, Data: firestore.Fields{
			"title":  firestore.StringValue("Notes"),
			"author": firestore.StringValue("bob"),
		}}, false, ""},
		{"update post as admin", Request{Operation: OperationUpdate, Path: "posts/p1", Auth: root}, true, "posts/{postId}"},
		{"update post as user", Request{Operation: OperationUpdate, Path: "posts/p1", Auth: ada}, false, ""},
		{"no rule", Request{Operation: OperationGet, Path: "secrets/s1", Auth: ada}, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			d, err := e.Evaluate(context.Background(), &req)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, d.Allowed, d.Reason)
			if tc.allowed {
				assert.Equal(t, tc.by, d.AllowedBy)
			}
		})
	}
}

func TestEngine_DenyReportsRule(t *testing.T) {
	e := newTestEngine(t, testRules)
	d, err := e.Evaluate(context.Background(), &Request{Operation: OperationDelete, Path: "users/ada", Auth: &Auth{UID: "ada"}})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "users/{userId}", d.DeniedBy)
	assert.Equal(t, map[string]string{"userId": "ada"}, d.Variables)

	d, err = e.Evaluate(context.Background(), &Request{Operation: OperationGet, Path: "nowhere/x"})
	require.NoError(t, err)
	assert.Contains(t, d.Reason, "default deny")
}

func TestEngine_Priority(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - match: "{document=**}"
    allow:
      read: "true"
  - match: vault/{id}
    priority: 100
    deny:
      read: "true"
`)
	d, err := e.Evaluate(context.Background(), &Request{Operation: OperationGet, Path: "vault/gold"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = e.Evaluate(context.Background(), &Request{Operation: OperationGet, Path: "other/doc"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "other/doc", d.Variables["document"])
}

func TestEngine_InvalidRequests(t *testing.T) {
	e := newTestEngine(t, testRules)
	_, err := e.Evaluate(context.Background(), &Request{Operation: OperationGet})
	assert.Error(t, err)
	_, err = e.Evaluate(context.Background(), &Request{Operation: OperationWrite, Path: "users/a"})
	assert.Error(t, err)
	_, err = e.Evaluate(context.Background(), nil)
	assert.Error(t, err)
}

func TestEngine_LoadRejectsBadRules(t *testing.T) {
	e := newTestEngine(t, testRules)

	bad := map[string]string{
		"bad cel":       "rules:\n  - match: a/{b}\n    allow:\n      read: 'auth.uid =='\n",
		"non bool":      "rules:\n  - match: a/{b}\n    allow:\n      read: '1 + 2'\n",
		"bad operation": "rules:\n  - match: a/{b}\n    allow:\n      peek: 'true'\n",
		"no conditions": "rules:\n  - match: a/{b}\n",
		"bad variable":  "rules:\n  - match: a/{1b}\n    allow:\n      read: 'true'\n",
		"two recursive": "rules:\n  - match: '**/a/{x=**}'\n    allow:\n      read: 'true'\n",
		"empty match":   "rules:\n  - match: ''\n    allow:\n      read: 'true'\n",
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			rs, err := ParseYAML([]byte(doc))
			require.NoError(t, err)
			assert.Error(t, e.Load(rs))
		})
	}

	_, err := ParseYAML([]byte("rules:\n  - match: a\n    allw: {}\n"))
	assert.Error(t, err, "unknown keys are rejected")

	assert.Len(t, e.Rules(), 4, "failed loads keep the previous rules")
}

func TestEngine_EmptyRuleSetDeniesEverything(t *testing.T) {
	e := newTestEngine(t, "")
	d, err := e.Evaluate(context.Background(), &Request{Operation: OperationGet, Path: "a/b"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestEngine_LookupFailureDenies(t *testing.T) {
	e := newTestEngine(t, testRules)
	d, err := e.Evaluate(context.Background(), &Request{Operation: OperationUpdate, Path: "posts/p1", Auth: &Auth{UID: "root"}})
	require.NoError(t, err)
	assert.False(t, d.Allowed, "exists() without a lookup fails evaluation")
}

func TestPathPattern(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		match   bool
		vars    map[string]string
	}{
		{"users/{uid}", "users/ada", true, map[string]string{"uid": "ada"}},
		{"users/{uid}", "users/ada/posts/p", false, nil},
		{"users/{uid}/posts/{pid}", "/users/ada/posts/p1/", true, map[string]string{"uid": "ada", "pid": "p1"}},
		{"users/{uid}/{rest=**}", "users/ada/a/b/c", true, map[string]string{"uid": "ada", "rest": "a/b/c"}},
		{"**/comments/{cid}", "posts/p/comments/c9", true, map[string]string{"cid": "c9"}},
		{"logs_*/{id}", "logs_2024/x", true, map[string]string{"id": "x"}},
		{"logs_*/{id}", "metrics/x", false, nil},
	}
	for _, tc := range cases {
		t.Run(tc.pattern+" "+tc.path, func(t *testing.T) {
			p, err := compilePattern(tc.pattern)
			require.NoError(t, err)
			vars, ok := p.match(tc.path)
			assert.Equal(t, tc.match, ok)
			if tc.match {
				assert.Equal(t, tc.vars, vars)
			}
		})
	}
}

func TestEngine_Watch(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(file, []byte("rules:\n  - match: a/{b}\n    allow:\n      read: 'false'\n"), 0o600))

	e, err := NewEngine(logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, e.LoadFile(file))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Watch(ctx, file))

	allowed := func() bool {
		d, err := e.Evaluate(context.Background(), &Request{Operation: OperationGet, Path: "a/x"})
		return err == nil && d.Allowed
	}
	assert.False(t, allowed())

	require.NoError(t, os.WriteFile(file, []byte("rules:\n  - match: a/{b}\n    allow:\n      read: 'true'\n"), 0o600))
	assert.Eventually(t, allowed, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(file, []byte("rules: [[[broken"), 0o600))
	time.Sleep(4 * reloadDebounce)
	assert.True(t, allowed(), "a broken file keeps the previous rules")
}
