package store

import (
	"context"
	"fmt"
	"strings"
)

// SearchFullText runs an FTS5 expression over content and lemmacontent and
// returns the matching documents that are still new, in insertion order.
// The tokenizer folds case and diacritics, so "arviz" finds "árvíz".
func (s *Store) SearchFullText(ctx context.Context, query string) ([]*Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidQuery)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+docColumns+` FROM docs
		WHERE isnew = 1
		  AND id IN (SELECT rowid FROM docs_fts WHERE docs_fts MATCH ?)
		ORDER BY id`, query)
	if err != nil {
		return nil, wrapQueryError(query, err)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, wrapQueryError(query, err)
	}
	return docs, nil
}

// SearchAll is SearchFullText without the isnew restriction, for the read
// surfaces (CLI, HTTP, MCP).
func (s *Store) SearchAll(ctx context.Context, query string, limit int) ([]*Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+docColumns+` FROM docs
		WHERE id IN (SELECT rowid FROM docs_fts WHERE docs_fts MATCH ?)
		ORDER BY issue_date DESC, id DESC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, wrapQueryError(query, err)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, wrapQueryError(query, err)
	}
	return docs, nil
}

func wrapQueryError(query string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "fts5") ||
		strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "no such column") {
		return fmt.Errorf("%w: %q: %v", ErrInvalidQuery, query, err)
	}
	return fmt.Errorf("search %q: %w", query, err)
}
