// Package store is the gazette document repository: one row per document
// hash, an FTS5 index kept in lock-step by triggers, and the isnew flag that
// drives the consumption protocol.
package store

import (
	"database/sql"

	"github.com/hazyhaar/kozlony/dbopen"
)

// Store is the document database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the gazette database at path and applies the
// document schema. Extra options (e.g. the run journal schema) run after it.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewStore wraps an already-opened database. The schema must be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
