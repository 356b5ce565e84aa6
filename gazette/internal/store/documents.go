package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/kozlony/dbopen"
)

const docColumns = `dochash, scrape_date, issue_date, title, uri, pdfuri, content, lemmacontent, isnew`

// InsertIfAbsent stores d with isnew set unless its hash is already known.
// A known hash is not an error: inserted is false and the stored row is left
// untouched. The UNIQUE constraint on dochash decides, so two writers racing
// on the same hash both succeed and exactly one row exists.
func (s *Store) InsertIfAbsent(ctx context.Context, d *Document) (bool, error) {
	if err := d.Validate(); err != nil {
		return false, err
	}
	if d.ScrapedAt == 0 {
		d.ScrapedAt = time.Now().UnixMilli()
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO docs (`+docColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(dochash) DO NOTHING`,
		d.Hash, d.ScrapedAt, d.IssueDate.Format(DateLayout), d.Title,
		d.SourceURL, d.PDFURL, d.Content, d.NormalizedContent,
	)
	if err != nil {
		if dbopen.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert document %s: %w", d.Hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert document %s: rows affected: %w", d.Hash, err)
	}
	if n == 1 {
		d.IsNew = true
	}
	return n == 1, nil
}

// Get returns the document with the given hash, or nil when absent.
func (s *Store) Get(ctx context.Context, hash string) (*Document, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM docs WHERE dochash = ?`, hash)
	d, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return d, nil
}

// Exists reports whether a document with the given hash is stored.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM docs WHERE dochash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", hash, err)
	}
	return n > 0, nil
}

// LatestIssueDate returns the greatest issue date stored; ok is false when
// the store is empty.
func (s *Store) LatestIssueDate(ctx context.Context) (time.Time, bool, error) {
	var v sql.NullString
	if err := s.DB.QueryRowContext(ctx, `SELECT MAX(issue_date) FROM docs`).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("latest issue date: %w", err)
	}
	if !v.Valid || v.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(DateLayout, v.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest issue date %q: %w", v.String, err)
	}
	return t, true, nil
}

// AllNew returns every document whose isnew flag is set, in insertion order.
func (s *Store) AllNew(ctx context.Context) ([]*Document, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+docColumns+` FROM docs WHERE isnew = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all new: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// MarkConsumed clears the isnew flag of every hash in one transaction, so
// either all of them are consumed or none is. Already consumed or unknown
// hashes are a no-op.
func (s *Store) MarkConsumed(ctx context.Context, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE docs SET isnew = 0 WHERE dochash = ? AND isnew = 1`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, h := range hashes {
			if _, err := stmt.ExecContext(ctx, h); err != nil {
				return fmt.Errorf("%s: %w", h, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

// Stats counts documents by lifecycle state.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var latest sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(isnew), 0), MAX(issue_date) FROM docs`,
	).Scan(&st.Total, &st.New, &latest)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	st.Consumed = st.Total - st.New
	st.LatestIssueDate = latest.String

	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM docs_fts_docsize`).Scan(&st.Indexed); err != nil {
		return nil, fmt.Errorf("stats: index size: %w", err)
	}
	return &st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(r scanner) (*Document, error) {
	var d Document
	var issue string
	var isNew int
	if err := r.Scan(&d.Hash, &d.ScrapedAt, &issue, &d.Title, &d.SourceURL,
		&d.PDFURL, &d.Content, &d.NormalizedContent, &isNew); err != nil {
		return nil, err
	}
	t, err := time.Parse(DateLayout, issue)
	if err != nil {
		return nil, fmt.Errorf("issue date %q: %w", issue, err)
	}
	d.IssueDate = t
	d.IsNew = isNew == 1
	return &d, nil
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	var result []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
