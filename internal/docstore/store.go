// internal/docstore/store.go
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/google/uuid"
)

// IDField is the document field every backend fills with the store-assigned id.
const IDField = "_id"

// ErrNoDocuments is returned by the single-document operations when nothing
// matches the filter.
var ErrNoDocuments = errors.New("docstore: no documents in result")

// Document is a schemaless record. Numbers read back from a store are
// json.Number so 64-bit integers survive the trip.
type Document map[string]any

// Filter is an equality filter: a document matches when every named
// top-level field equals the given value. An empty filter matches everything.
// Values must be scalars (strings, numbers, booleans); the Postgres backend
// compares array and object values by containment rather than equality.
type Filter map[string]any

// Eq builds a single-field equality filter.
func Eq(field string, value any) Filter {
	return Filter{field: value}
}

// Store is the persistent collection store the core is built on.
//
// Single-document operations act on the earliest inserted match. Find
// returns matches in insertion order.
type Store interface {
	EnsureCollection(ctx context.Context, name string) error
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)
	Find(ctx context.Context, collection string, filter Filter) ([]Document, error)
	FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error)
	FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Document, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
	Close() error
}

// ID returns the store-assigned id of doc, or "" if it has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// withID returns an encodable copy of doc carrying id.
func withID(doc Document, id string) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[IDField] = id
	return out
}

// newID picks the id for an inserted document, keeping a caller-supplied one.
func newID(doc Document) string {
	if id := doc.ID(); id != "" {
		return id
	}
	return uuid.NewString()
}

func encode(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

func decode(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// normalize pushes a value through the same JSON encoding the backends use,
// so values compare equal regardless of the Go type they started as.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeFilter(filter Filter) (Filter, error) {
	out := make(Filter, len(filter))
	for k, v := range filter {
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// matches reports whether doc satisfies an already normalized filter.
func matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
