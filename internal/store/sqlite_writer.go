package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentic-research/loom/internal/vault"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS documents (
	name TEXT PRIMARY KEY,
	attrs JSON
);

CREATE TABLE IF NOT EXISTS links (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	raw TEXT,
	line TEXT,
	ord INTEGER NOT NULL,
	PRIMARY KEY (source, ord)
) WITHOUT ROWID;
`

// SQLiteWriter bulk-loads documents and links into an archive database.
type SQLiteWriter struct {
	db        *sql.DB
	tx        *sql.Tx
	stmtDoc   *sql.Stmt
	stmtLink  *sql.Stmt
	batchSize int
	count     int
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewSQLiteWriter creates (or extends) the archive at dbPath.
func NewSQLiteWriter(dbPath string, logger *zap.Logger) (*SQLiteWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Bulk insert tuning
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &SQLiteWriter{db: db, batchSize: 10000, logger: logger}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmtDoc, err = w.tx.Prepare(`INSERT OR REPLACE INTO documents (name, attrs) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	w.stmtLink, err = w.tx.Prepare(`INSERT OR REPLACE INTO links (source, target, raw, line, ord) VALUES (?, ?, ?, ?, ?)`)
	return err
}

func (w *SQLiteWriter) commitTx() error {
	if w.stmtDoc != nil {
		_ = w.stmtDoc.Close()
	}
	if w.stmtLink != nil {
		_ = w.stmtLink.Close()
	}
	return w.tx.Commit()
}

// step commits every batchSize writes. Must be called with w.mu held.
func (w *SQLiteWriter) step() error {
	w.count++
	if w.count < w.batchSize {
		return nil
	}
	w.count = 0
	if err := w.commitTx(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return w.beginTx()
}

// AddDocument writes one document row. attrs are stored as JSON.
func (w *SQLiteWriter) AddDocument(name string, attrs map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var record []byte
	if len(attrs) > 0 {
		var err error
		record, err = json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("encode attrs of %s: %w", name, err)
		}
	}
	if _, err := w.stmtDoc.Exec(name, record); err != nil {
		return fmt.Errorf("insert document %s: %w", name, err)
	}
	return w.step()
}

// AddLink writes the ord-th reference of source. raw is the target as
// written in the document, target its resolved name.
func (w *SQLiteWriter) AddLink(source, target, raw, line string, ord int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.stmtLink.Exec(source, target, raw, line, ord); err != nil {
		return fmt.Errorf("insert link %s -> %s: %w", source, target, err)
	}
	return w.step()
}

// Close commits pending writes, builds the lookup indexes and closes the db.
func (w *SQLiteWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	// Indexes after bulk load
	if _, err := w.db.Exec(`CREATE INDEX IF NOT EXISTS idx_links_target ON links(target)`); err != nil {
		w.logger.Warn("index creation failed", zap.Error(err))
	}
	return w.db.Close()
}

// WriteVault archives every document of v with its resolved links.
// Content is dropped from the stored attributes.
func WriteVault(ctx context.Context, v *vault.Vault, w *SQLiteWriter) (docs, links int, err error) {
	for _, name := range v.Names() {
		if err := ctx.Err(); err != nil {
			return docs, links, err
		}
		doc, ok := v.Document(name)
		if !ok {
			continue
		}
		n := DocumentNode(doc)
		attrs := make(map[string]any, len(n.Attributes))
		for k, val := range n.Attributes {
			if k != "content" {
				attrs[k] = val
			}
		}
		if err := w.AddDocument(name, attrs); err != nil {
			return docs, links, err
		}
		docs++
		for i, l := range doc.Links {
			target, _ := v.Resolve(l.Target)
			if err := w.AddLink(name, target, l.Target, l.Line, i); err != nil {
				return docs, links, err
			}
			links++
		}
	}
	return docs, links, nil
}
