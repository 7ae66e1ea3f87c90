package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/revonto/pkg/engine"
)

// Store archives study runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// study_records cascade on study deletion
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS studies (
		study_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		query JSON NOT NULL,
		methods JSON NOT NULL,
		alpha REAL NOT NULL,
		pvalue TEXT NOT NULL,
		record_count INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_studies_created_at ON studies(created_at);

	CREATE TABLE IF NOT EXISTS study_records (
		study_id TEXT NOT NULL REFERENCES studies(study_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		study_count INTEGER NOT NULL,
		study_n INTEGER NOT NULL,
		pop_count INTEGER NOT NULL,
		pop_n INTEGER NOT NULL,
		p_uncorrected REAL NOT NULL,
		enrichment TEXT NOT NULL,
		corrected JSON NOT NULL,
		study_items JSON NOT NULL,
		PRIMARY KEY (study_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_study_records_product ON study_records(product_id);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create study tables: %w", err)
	}
	return nil
}

// SaveStudy writes a study and its records in one transaction. Record order
// is preserved.
func (s *Store) SaveStudy(ctx context.Context, study *Study) error {
	if study.ID == "" {
		return fmt.Errorf("study id is required")
	}
	query, err := json.Marshal(study.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}
	methods, err := json.Marshal(study.Methods)
	if err != nil {
		return fmt.Errorf("failed to marshal methods: %w", err)
	}
	createdAt := study.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO studies (study_id, created_at, query, methods, alpha, pvalue, record_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, study.ID, createdAt.UTC(), string(query), string(methods), study.Alpha, study.PValue, len(study.Records)); err != nil {
		return fmt.Errorf("failed to insert study %s: %w", study.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO study_records (study_id, position, product_id, study_count, study_n, pop_count, pop_n, p_uncorrected, enrichment, corrected, study_items)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range study.Records {
		corrected := r.Corrected
		if corrected == nil {
			corrected = map[string]float64{}
		}
		correctedJSON, err := json.Marshal(corrected)
		if err != nil {
			return fmt.Errorf("failed to marshal corrected values: %w", err)
		}
		items := r.StudyItems
		if items == nil {
			items = []string{}
		}
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("failed to marshal study items: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, study.ID, i, r.ProductID, r.StudyCount, r.StudyN, r.PopCount, r.PopN, r.PUncorrected, r.Enrichment, string(correctedJSON), string(itemsJSON)); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit study %s: %w", study.ID, err)
	}
	return nil
}

// GetStudy loads a study with its records in their original order.
func (s *Store) GetStudy(ctx context.Context, id string) (*Study, error) {
	var (
		study          Study
		query, methods string
		count          int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT study_id, created_at, query, methods, alpha, pvalue, record_count
		FROM studies WHERE study_id = ?
	`, id).Scan(&study.ID, &study.CreatedAt, &query, &methods, &study.Alpha, &study.PValue, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrStudyNotFound, id)
		}
		return nil, fmt.Errorf("failed to query study %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(query), &study.Query); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query: %w", err)
	}
	if err := json.Unmarshal([]byte(methods), &study.Methods); err != nil {
		return nil, fmt.Errorf("failed to unmarshal methods: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, study_count, study_n, pop_count, pop_n, p_uncorrected, enrichment, corrected, study_items
		FROM study_records WHERE study_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for %s: %w", id, err)
	}
	defer rows.Close()

	study.Records = make([]*engine.Record, 0, count)
	for rows.Next() {
		var (
			r                  engine.Record
			corrected, itemsJS string
		)
		if err := rows.Scan(&r.ProductID, &r.StudyCount, &r.StudyN, &r.PopCount, &r.PopN, &r.PUncorrected, &r.Enrichment, &corrected, &itemsJS); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(corrected), &r.Corrected); err != nil {
			return nil, fmt.Errorf("failed to unmarshal corrected values: %w", err)
		}
		if len(r.Corrected) == 0 {
			r.Corrected = nil
		}
		if err := json.Unmarshal([]byte(itemsJS), &r.StudyItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal study items: %w", err)
		}
		study.Records = append(study.Records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return &study, nil
}

// ListStudies returns the most recent studies first. A non-positive limit
// defaults to 50.
func (s *Store) ListStudies(ctx context.Context, limit int) ([]StudySummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT study_id, created_at, query, methods, alpha, pvalue, record_count
		FROM studies ORDER BY created_at DESC, study_id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	out := []StudySummary{}
	for rows.Next() {
		var (
			sum            StudySummary
			query, methods string
		)
		if err := rows.Scan(&sum.ID, &sum.CreatedAt, &query, &methods, &sum.Alpha, &sum.PValue, &sum.RecordCount); err != nil {
			return nil, fmt.Errorf("failed to scan study: %w", err)
		}
		if err := json.Unmarshal([]byte(query), &sum.Query); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query: %w", err)
		}
		if err := json.Unmarshal([]byte(methods), &sum.Methods); err != nil {
			return nil, fmt.Errorf("failed to unmarshal methods: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteStudy removes a study and its records.
func (s *Store) DeleteStudy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM studies WHERE study_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete study %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrStudyNotFound, id)
	}
	return nil
}
