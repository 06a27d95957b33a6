// Package docstore is a client for a path-addressed document database.
//
// Documents live at paths of the form collection/doc[/subcollection/doc...].
// Every document belongs to the collection path it was written under, and
// collection-group queries match all collections sharing the same final
// segment (for example every users/{uid}/connections collection).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	ErrInvalidPath   = errors.New("docstore: invalid path")
)

// Snapshot is a read of a single document.
type Snapshot struct {
	ID         string                 `json:"id"`
	Path       string                 `json:"path"`
	Data       map[string]interface{} `json:"data"`
	CreateTime time.Time              `json:"createTime"`
	UpdateTime time.Time              `json:"updateTime"`
}

// DataTo decodes the document fields into v, which should be a pointer to a
// struct with json tags.
func (s *Snapshot) DataTo(v interface{}) error {
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Ops are the primitives available both outside and inside a transaction.
type Ops interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, path string) (*Snapshot, error)
	// Create fails with ErrAlreadyExists when the document exists.
	Create(ctx context.Context, path string, data interface{}) error
	// Set creates or fully replaces a document.
	Set(ctx context.Context, path string, data interface{}) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// Delete is a no-op for documents that do not exist.
	Delete(ctx context.Context, path string) error
	// Query lists documents directly under a collection path.
	Query(ctx context.Context, collectionPath string, q Query) ([]*Snapshot, error)
	// QueryGroup lists documents of every collection named group.
	QueryGroup(ctx context.Context, group string, q Query) ([]*Snapshot, error)
}

// TxFunc runs inside a transaction. All reads and writes must go through tx.
type TxFunc func(ctx context.Context, tx Ops) error

// Store is a document store connection.
type Store interface {
	Ops
	// RunTransaction commits every write made through tx when fn returns nil
	// and discards all of them otherwise.
	RunTransaction(ctx context.Context, fn TxFunc) error
	Close() error
}
