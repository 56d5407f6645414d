// Package docstore is the document-per-entity persistence port used by the
// notification engine, with memory, Redis and Postgres implementations.
//
// Documents are flat JSON objects addressed by (collection, id). Every backend
// offers the same primitives:
//
//   - Set with merge=true writes only the given top-level fields, so concurrent
//     writers touching different fields never clobber each other. A nil value
//     removes the field.
//   - ConditionalSet is a single atomic check-and-set. It merges data only when
//     the precondition holds against the stored document and otherwise returns
//     sentinel.ErrConflict.
//
// Backend failures wrap sentinel.ErrUnavailable.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"siraj/pkg/platform/sentinel"
)

// Document is a stored entity's top-level fields after JSON normalization:
// numbers are float64, nested objects are map[string]any.
type Document map[string]any

// Op is a filter comparison.
type Op string

const (
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
)

// Filter compares one top-level field against a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// Query selects documents from one collection. Filters are ANDed.
// OrderBy sorts by a single field (ascending unless Desc); Limit <= 0 means no limit.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Precondition guards ConditionalSet. Absent fields must be missing or null on
// the stored document; Equals fields must be present with the given value.
// An empty Precondition always holds. Equals against a missing document fails.
type Precondition struct {
	Absent []string
	Equals map[string]any
}

// Store is the document store port.
type Store interface {
	// Get returns sentinel.ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set creates or replaces the document, or merges fields when merge is true.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	// ConditionalSet merges data atomically when pre holds, else sentinel.ErrConflict.
	ConditionalSet(ctx context.Context, collection, id string, data map[string]any, pre Precondition) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Delete is idempotent.
	Delete(ctx context.Context, collection, id string) error
	Count(ctx context.Context, collection string, filters ...Filter) (int, error)
}

// ID returns the document's id field, set by every backend on read.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// FieldID is populated on every document returned by a Store.
const FieldID = "id"

// TimestampLayout is fixed width so stored timestamps order correctly as strings.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// Timestamp formats t in UTC with TimestampLayout. Use it for any field that
// Query orders by.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Encode converts a struct (or map) into storable fields using its JSON tags.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

// Decode converts a stored document into v using its JSON tags.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// normalize round-trips data through JSON so every backend stores and
// compares the same representation (time.Time becomes RFC 3339 text, ints
// become float64).
func normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	out, err := Encode(data)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

func validateKey(collection, id string) error {
	if collection == "" {
		return fmt.Errorf("collection is required")
	}
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	return nil
}
