package firestore

import (
	"sync"
	"sync/atomic"
	"time"
)

// snapshotCache keeps the last known state of documents and query results.
// Reads never lock. Each entry is replaced wholesale, never mutated in place.
type snapshotCache struct {
	enabled atomic.Bool
	docs    sync.Map // document path -> *cachedDocument
	queries sync.Map // fingerprint -> *cachedQuery
}

// cachedDocument records a document state. A nil doc means the document is known
// to be missing.
type cachedDocument struct {
	doc      *Document
	readTime time.Time
}

type cachedQuery struct {
	query    QueryDescriptor
	docs     []*Document
	readTime time.Time
}

func newSnapshotCache(enabled bool) *snapshotCache {
	c := &snapshotCache{}
	c.enabled.Store(enabled)
	return c
}

func (c *snapshotCache) setEnabled(enabled bool) {
	c.enabled.Store(enabled)
	if !enabled {
		c.clear()
	}
}

func (c *snapshotCache) document(path string) (*cachedDocument, bool) {
	if !c.enabled.Load() {
		return nil, false
	}
	v, ok := c.docs.Load(path)
	if !ok {
		return nil, false
	}
	return v.(*cachedDocument), true
}

func (c *snapshotCache) putDocument(path string, doc *Document, readTime time.Time) {
	if !c.enabled.Load() {
		return
	}
	c.docs.Store(path, &cachedDocument{doc: doc.Clone(), readTime: readTime})
}

func (c *snapshotCache) query(fingerprint string) (*cachedQuery, bool) {
	if !c.enabled.Load() {
		return nil, false
	}
	v, ok := c.queries.Load(fingerprint)
	if !ok {
		return nil, false
	}
	return v.(*cachedQuery), true
}

// putQuery stores a query result and every document in it.
func (c *snapshotCache) putQuery(q QueryDescriptor, docs []*Document, readTime time.Time) {
	if !c.enabled.Load() {
		return
	}
	stored := make([]*Document, len(docs))
	for i, d := range docs {
		stored[i] = d.Clone()
		c.docs.Store(d.Path, &cachedDocument{doc: stored[i], readTime: readTime})
	}
	c.queries.Store(q.Fingerprint(), &cachedQuery{query: q, docs: stored, readTime: readTime})
}

// invalidate drops the entries a successful write to paths makes stale: the
// documents themselves and every query over a collection holding one of them.
// Entries read at or after commitTime already reflect the write and are kept;
// a zero commitTime drops unconditionally.
func (c *snapshotCache) invalidate(paths []string, commitTime time.Time) {
	stale := func(readTime time.Time) bool {
		return commitTime.IsZero() || readTime.Before(commitTime)
	}
	for _, p := range paths {
		if v, ok := c.docs.Load(p); ok && stale(v.(*cachedDocument).readTime) {
			c.docs.CompareAndDelete(p, v)
		}
	}
	c.queries.Range(func(key, value interface{}) bool {
		cq := value.(*cachedQuery)
		if !stale(cq.readTime) {
			return true
		}
		for _, p := range paths {
			if cq.query.Contains(p) {
				c.queries.CompareAndDelete(key, value)
				break
			}
		}
		return true
	})
}

func (c *snapshotCache) clear() {
	c.docs.Range(func(key, _ interface{}) bool {
		c.docs.Delete(key)
		return true
	})
	c.queries.Range(func(key, _ interface{}) bool {
		c.queries.Delete(key)
		return true
	})
}
