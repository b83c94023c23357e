package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/doctalk/internal/models"
)

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db   *sql.DB
	path string
}

// NewSQLiteArchive opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteArchive(dbPath string) (*SQLiteArchive, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteArchive{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		length INTEGER NOT NULL,
		checksum TEXT,
		uploaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_checksum ON documents(checksum);

	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		document_id TEXT,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_document_id ON exchanges(document_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordDocument inserts a document. Recording the same document ID twice is a no-op.
func (s *SQLiteArchive) RecordDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (id, name, content, length, checksum, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.Text, doc.Length, doc.Checksum, doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record document %s: %w", doc.ID, err)
	}
	return nil
}

// RecordExchange inserts a completed exchange, assigning an ID and timestamp when missing.
func (s *SQLiteArchive) RecordExchange(ctx context.Context, ex *models.Exchange) error {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	var docID sql.NullString
	if ex.DocumentID != "" {
		docID = sql.NullString{String: ex.DocumentID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, document_id, prompt, response, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ex.ID, docID, ex.Prompt, ex.Response, ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// ExchangesForDocument returns the archived exchanges grounded on docID, oldest first.
func (s *SQLiteArchive) ExchangesForDocument(ctx context.Context, docID string) ([]*models.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(document_id, ''), prompt, response, created_at
		 FROM exchanges WHERE document_id = ? ORDER BY created_at, rowid`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Exchange
	for rows.Next() {
		var ex models.Exchange
		if err := rows.Scan(&ex.ID, &ex.DocumentID, &ex.Prompt, &ex.Response, &ex.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// CountDocuments returns the total number of archived documents.
func (s *SQLiteArchive) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountExchanges returns the total number of archived exchanges.
func (s *SQLiteArchive) CountExchanges(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&count)
	return count, err
}

// Path returns the database file path.
func (s *SQLiteArchive) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteArchive) Close() error {
	return s.db.Close()
}
