package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
)

// maxParams keeps IN lists under SQLite's bound parameter limit.
const maxParams = 500

// Store is a SQLite database holding publish records.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.invoice-etl/data/records.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".invoice-etl", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "records.db")

	// WAL lets concurrent publish workers record while a run reads.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// PublishRecordStore returns a PublishRecordStore backed by this store.
func (s *Store) PublishRecordStore() driven.PublishRecordStore {
	return &publishRecordStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_publish_records.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Publish Record Store ====================

// publishRecordStore implements driven.PublishRecordStore.
type publishRecordStore struct {
	store *Store
}

var _ driven.PublishRecordStore = (*publishRecordStore)(nil)

// Record stores or replaces the record for an invoice.
func (s *publishRecordStore) Record(ctx context.Context, rec domain.PublishRecord) error {
	if rec.InvoiceID == "" {
		return fmt.Errorf("%w: record without invoice id", domain.ErrInvalidInput)
	}
	status := rec.Status
	if status == "" {
		status = domain.PublishStatusPublished
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO publish_records (invoice_id, status, published_at, location, checksum, run_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(invoice_id) DO UPDATE SET
			status = excluded.status,
			published_at = excluded.published_at,
			location = excluded.location,
			checksum = excluded.checksum,
			run_id = excluded.run_id
	`, rec.InvoiceID, string(status), formatTime(rec.PublishedAt), rec.Location, rec.Checksum, rec.RunID)
	if err != nil {
		return fmt.Errorf("recording invoice %s: %w", rec.InvoiceID, err)
	}
	return nil
}

// ListPublished returns which ids have a record. Long lists are split
// into chunks inside one read transaction.
func (s *publishRecordStore) ListPublished(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(ids) == 0 {
		return found, nil
	}

	tx, err := s.store.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("starting lookup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := "SELECT invoice_id FROM publish_records WHERE invoice_id IN (?" +
			strings.Repeat(", ?", len(chunk)-1) + ")"

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("listing published invoices: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning invoice id: %w", err)
			}
			found[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("listing published invoices: %w", err)
		}
	}

	return found, nil
}

// Get retrieves the record for one invoice.
func (s *publishRecordStore) Get(ctx context.Context, invoiceID string) (*domain.PublishRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT invoice_id, status, published_at, location, checksum, run_id
		FROM publish_records WHERE invoice_id = ?
	`, invoiceID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", invoiceID, err)
	}
	return rec, nil
}

// List returns the most recent records, newest first.
func (s *publishRecordStore) List(ctx context.Context, limit int) ([]domain.PublishRecord, error) {
	query := `
		SELECT invoice_id, status, published_at, location, checksum, run_id
		FROM publish_records ORDER BY published_at DESC, invoice_id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var result []domain.PublishRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.PublishRecord, error) {
	var (
		rec         domain.PublishRecord
		status      string
		publishedAt string
	)
	if err := row.Scan(&rec.InvoiceID, &status, &publishedAt, &rec.Location, &rec.Checksum, &rec.RunID); err != nil {
		return nil, err
	}
	rec.Status = domain.PublishStatus(status)

	t, err := time.Parse(time.RFC3339Nano, publishedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing published_at %q: %w", publishedAt, err)
	}
	rec.PublishedAt = t
	return &rec, nil
}

// formatTime stores UTC with a fixed width so text ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
