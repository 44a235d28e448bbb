package firestore

import (
	"time"

	apperrors "firestore-client/internal/shared/errors"
)

// SnapshotMetadata describes where a snapshot came from.
type SnapshotMetadata struct {
	FromCache        bool
	HasPendingWrites bool
}

// DocumentSnapshot is an immutable view of a document at one point in time. A
// snapshot of a missing document has Exists() == false and no fields.
type DocumentSnapshot struct {
	Ref        *DocumentReference
	CreateTime time.Time
	UpdateTime time.Time
	ReadTime   time.Time
	Metadata   SnapshotMetadata

	fields Fields
	exists bool
}

func newDocumentSnapshot(ref *DocumentReference, doc *Document, readTime time.Time, meta SnapshotMetadata) *DocumentSnapshot {
	s := &DocumentSnapshot{Ref: ref, ReadTime: readTime, Metadata: meta}
	if doc != nil {
		s.exists = true
		s.fields = doc.Fields.Clone()
		s.CreateTime = doc.CreateTime
		s.UpdateTime = doc.UpdateTime
	}
	return s
}

func (s *DocumentSnapshot) Exists() bool { return s != nil && s.exists }

func (s *DocumentSnapshot) ID() string { return s.Ref.ID() }

// Fields returns a copy of the typed field map.
func (s *DocumentSnapshot) Fields() Fields { return s.fields.Clone() }

// Data converts the fields to plain Go values. References come back as
// *DocumentReference. It returns nil for a missing document.
func (s *DocumentSnapshot) Data() map[string]interface{} {
	if !s.Exists() {
		return nil
	}
	return s.fields.toGo(s.Ref.c.referenceOf)
}

// Value returns the typed value at a dotted field path.
func (s *DocumentSnapshot) Value(field string) (Value, bool) {
	if !s.Exists() {
		return Value{}, false
	}
	fp, err := ParseFieldPath(field)
	if err != nil {
		return Value{}, false
	}
	if fp.isDocumentID() {
		return ReferenceValue(s.Ref.Path()), true
	}
	return s.fields.Get(fp)
}

// DataAt returns the Go value at a dotted field path, NOT_FOUND when it is absent.
func (s *DocumentSnapshot) DataAt(field string) (interface{}, error) {
	if _, err := ParseFieldPath(field); err != nil {
		return nil, err
	}
	v, ok := s.Value(field)
	if !ok {
		return nil, apperrors.NewNotFoundError("field " + field)
	}
	return v.toGo(s.Ref.c.referenceOf), nil
}

// IsEqual compares reference, existence, fields and metadata.
func (s *DocumentSnapshot) IsEqual(other *DocumentSnapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Ref.IsEqual(other.Ref) &&
		s.exists == other.exists &&
		s.Metadata == other.Metadata &&
		MapValue(s.fields).Equal(MapValue(other.fields))
}

func (s *DocumentSnapshot) document() *Document {
	if !s.Exists() {
		return nil
	}
	return &Document{Path: s.Ref.Path(), Fields: s.fields, CreateTime: s.CreateTime, UpdateTime: s.UpdateTime}
}

// DocumentChange is one difference between two consecutive query snapshots.
// OldIndex is the position in the previous snapshot, -1 for added documents.
// NewIndex is the position in this snapshot, -1 for removed documents.
type DocumentChange struct {
	Kind     ChangeKind
	Doc      *DocumentSnapshot
	OldIndex int
	NewIndex int
}

// QuerySnapshot is an immutable query result.
type QuerySnapshot struct {
	Query    Query
	Docs     []*DocumentSnapshot
	Changes  []DocumentChange
	ReadTime time.Time
	Metadata SnapshotMetadata
}

func (qs *QuerySnapshot) Size() int   { return len(qs.Docs) }
func (qs *QuerySnapshot) Empty() bool { return len(qs.Docs) == 0 }

func newQuerySnapshot(q Query, docs []*Document, prev []*DocumentSnapshot, readTime time.Time, meta SnapshotMetadata) *QuerySnapshot {
	qs := &QuerySnapshot{Query: q, ReadTime: readTime, Metadata: meta}
	for _, d := range docs {
		ref, err := q.c.docRef(d.Path)
		if err != nil {
			q.c.logger.Warnf("Skipping document with invalid path %q: %v", d.Path, err)
			continue
		}
		qs.Docs = append(qs.Docs, newDocumentSnapshot(ref, d, readTime, meta))
	}
	qs.Changes = diffSnapshots(prev, qs.Docs)
	return qs
}

// diffSnapshots lists removals in previous order, then additions and
// modifications in next order.
func diffSnapshots(prev, next []*DocumentSnapshot) []DocumentChange {
	prevIndex := make(map[string]int, len(prev))
	for i, s := range prev {
		prevIndex[s.Ref.Path()] = i
	}
	nextIndex := make(map[string]int, len(next))
	for i, s := range next {
		nextIndex[s.Ref.Path()] = i
	}

	var changes []DocumentChange
	for i, s := range prev {
		if _, ok := nextIndex[s.Ref.Path()]; !ok {
			changes = append(changes, DocumentChange{Kind: ChangeRemoved, Doc: s, OldIndex: i, NewIndex: -1})
		}
	}
	for i, s := range next {
		old, ok := prevIndex[s.Ref.Path()]
		switch {
		case !ok:
			changes = append(changes, DocumentChange{Kind: ChangeAdded, Doc: s, OldIndex: -1, NewIndex: i})
		case !prev[old].UpdateTime.Equal(s.UpdateTime) || !MapValue(prev[old].fields).Equal(MapValue(s.fields)):
			changes = append(changes, DocumentChange{Kind: ChangeModified, Doc: s, OldIndex: old, NewIndex: i})
		}
	}
	return changes
}
