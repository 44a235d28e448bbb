// Package rules evaluates security rules for the emulator server. A rule matches
// document paths with a pattern and grants or denies operations with CEL
// conditions, for example:
//
//	rules:
//	  - match: users/{userId}
//	    priority: 10
//	    allow:
//	      read: auth != null
//	      write: auth != null && auth.uid == variables.userId
//	    deny:
//	      delete: "true"
package rules

import (
	"context"
	"errors"
	"time"

	"firestore-client/pkg/firestore"
)

// Operation is the kind of access being checked.
type Operation string

const (
	OperationGet    Operation = "get"
	OperationList   Operation = "list"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"

	// OperationRead and OperationWrite only appear as rule keys. They cover
	// get/list and create/update/delete.
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// lookupOrder lists the rule keys consulted for an operation, most specific first.
func (op Operation) lookupOrder() []Operation {
	switch op {
	case OperationGet, OperationList:
		return []Operation{op, OperationRead}
	case OperationCreate, OperationUpdate, OperationDelete:
		return []Operation{op, OperationWrite}
	}
	return []Operation{op}
}

func (op Operation) valid() bool {
	switch op {
	case OperationGet, OperationList, OperationCreate, OperationUpdate, OperationDelete, OperationRead, OperationWrite:
		return true
	}
	return false
}

// Rule grants or denies operations on the paths its Match pattern covers.
type Rule struct {
	// Match is a slash-separated pattern relative to the documents root.
	// {name} binds one segment, {name=**} binds any number of trailing
	// segments, and other segments may use doublestar glob syntax.
	Match       string               `yaml:"match" json:"match"`
	Allow       map[Operation]string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny        map[Operation]string `yaml:"deny,omitempty" json:"deny,omitempty"`
	Priority    int                  `yaml:"priority,omitempty" json:"priority,omitempty"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
}

// RuleSet is the content of a rules file.
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Auth is the authenticated caller.
type Auth struct {
	UID   string
	Token map[string]interface{}
}

// Request describes one access to check.
type Request struct {
	Operation Operation
	// Path is the document path, or the collection path for list. A list is
	// matched as if it named a document "*" in the collection.
	Path string
	// Auth is nil for unauthenticated callers.
	Auth *Auth
	// Resource is the stored document, nil when it does not exist.
	Resource firestore.Fields
	// Data is the document as it would be after a create or update.
	Data firestore.Fields
	Time time.Time
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed   bool              `json:"allowed"`
	AllowedBy string            `json:"allowedBy,omitempty"`
	DeniedBy  string            `json:"deniedBy,omitempty"`
	RuleMatch string            `json:"ruleMatch,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
}

// DocumentLookup backs the get() and exists() rule functions.
type DocumentLookup interface {
	LookupDocument(ctx context.Context, path string) (firestore.Fields, bool, error)
}

// TransportLookup reads documents through a transport.
type TransportLookup struct {
	Transport firestore.Transport
}

// LookupDocument implements DocumentLookup.
func (l TransportLookup) LookupDocument(ctx context.Context, path string) (firestore.Fields, bool, error) {
	doc, err := l.Transport.FetchDocument(ctx, path)
	if err != nil {
		if errors.Is(err, firestore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc.Fields, true, nil
}
