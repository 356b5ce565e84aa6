package store

// Schema creates the documents table and its full-text index.
//
// docs_fts is an external-content FTS5 table over docs(content, lemmacontent).
// The triggers make every insert, delete and text update of a docs row apply
// the matching index mutation inside the same statement, so an index entry
// exists exactly when the docs row does. isnew updates do not touch the index.
const Schema = `
CREATE TABLE IF NOT EXISTS docs (
    id           INTEGER PRIMARY KEY,
    dochash      TEXT NOT NULL UNIQUE,
    scrape_date  INTEGER NOT NULL,
    issue_date   TEXT NOT NULL,
    title        TEXT NOT NULL,
    uri          TEXT NOT NULL,
    pdfuri       TEXT NOT NULL,
    content      TEXT NOT NULL DEFAULT '',
    lemmacontent TEXT NOT NULL DEFAULT '',
    isnew        INTEGER NOT NULL DEFAULT 1 CHECK (isnew IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_docs_isnew ON docs(isnew, id);
CREATE INDEX IF NOT EXISTS idx_docs_issue_date ON docs(issue_date);

CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts5(
    content,
    lemmacontent,
    content='docs',
    content_rowid='id',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS docs_ai AFTER INSERT ON docs BEGIN
    INSERT INTO docs_fts(rowid, content, lemmacontent) VALUES (new.id, new.content, new.lemmacontent);
END;
CREATE TRIGGER IF NOT EXISTS docs_ad AFTER DELETE ON docs BEGIN
    INSERT INTO docs_fts(docs_fts, rowid, content, lemmacontent) VALUES('delete', old.id, old.content, old.lemmacontent);
END;
CREATE TRIGGER IF NOT EXISTS docs_au AFTER UPDATE OF content, lemmacontent ON docs BEGIN
    INSERT INTO docs_fts(docs_fts, rowid, content, lemmacontent) VALUES('delete', old.id, old.content, old.lemmacontent);
    INSERT INTO docs_fts(rowid, content, lemmacontent) VALUES (new.id, new.content, new.lemmacontent);
END;
`
