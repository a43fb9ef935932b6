package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var ErrNotFound = errors.New("document not found")

// ErrTransient marks failures that may succeed when retried (network, backend
// unavailable, serialization conflicts).
var ErrTransient = errors.New("transient store error")

// Document is a JSON object stored under a collection and id.
type Document map[string]any

// Snapshot is a document together with the id it is stored under.
type Snapshot struct {
	Id   string
	Data Document
}

type Op string

const (
	Eq  Op = "=="
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
)

// Filter is a predicate on a top-level document field. Values are compared as
// text, so timestamps must be stored in a fixed-width UTC layout for range
// filters to behave.
type Filter struct {
	Field string
	Op    Op
	Value string
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: fmt.Sprint(value)}
}

type OrderBy struct {
	Field string
	Desc  bool
}

// Store is the document database the calendar persists into.
type Store interface {
	// Put creates or replaces the document stored under id.
	Put(ctx context.Context, collection string, id string, doc Document) error
	// Get returns ErrNotFound when no document is stored under id.
	Get(ctx context.Context, collection string, id string) (Document, error)
	Query(ctx context.Context, collection string, filters []Filter, orderBy *OrderBy) ([]Snapshot, error)
	// Delete succeeds when the document does not exist.
	Delete(ctx context.Context, collection string, id string) error
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// fieldName is the shape of a field a filter or ordering may name.
var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkQuery(filters []Filter, orderBy *OrderBy) error {
	for _, f := range filters {
		if !f.Op.valid() {
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		if !fieldName.MatchString(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
	}
	if orderBy != nil && !fieldName.MatchString(orderBy.Field) {
		return fmt.Errorf("invalid order field %q", orderBy.Field)
	}
	return nil
}

func (o Op) valid() bool {
	switch o {
	case Eq, Lt, Lte, Gt, Gte:
		return true
	}
	return false
}

func compare(op Op, actual, expected string) bool {
	switch op {
	case Eq:
		return actual == expected
	case Lt:
		return actual < expected
	case Lte:
		return actual <= expected
	case Gt:
		return actual > expected
	case Gte:
		return actual >= expected
	}
	return false
}
