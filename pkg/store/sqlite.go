package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rhuidobro/renderq/pkg/models"
)

// SQLiteStore is a SQLite-backed implementation of the job record store.
// Records are stored as JSON blobs keyed by (partition, id), mirroring the
// two logical key-value partitions the service persists.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL plus a long busy timeout keeps the single-writer reconciliation
	// loop from tripping over concurrent API reads
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_records (
		partition TEXT NOT NULL,
		id TEXT NOT NULL,
		record TEXT NOT NULL,
		PRIMARY KEY (partition, id)
	);

	CREATE INDEX IF NOT EXISTS idx_job_records_partition ON job_records(partition);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Put stores a record under the given partition and id
func (s *SQLiteStore) Put(partition Partition, id string, record *models.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO job_records (partition, id, record)
		VALUES (?, ?, ?)
	`, string(partition), id, string(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a record by partition and id
func (s *SQLiteStore) Get(partition Partition, id string) (*models.JobRecord, error) {
	var data string
	err := s.db.QueryRow(`
		SELECT record FROM job_records WHERE partition = ? AND id = ?
	`, string(partition), id).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record models.JobRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return &record, nil
}

// Delete removes a record; deleting a missing id returns ErrJobNotFound
func (s *SQLiteStore) Delete(partition Partition, id string) error {
	result, err := s.db.Exec(`
		DELETE FROM job_records WHERE partition = ? AND id = ?
	`, string(partition), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Scan returns all records in a partition
func (s *SQLiteStore) Scan(partition Partition) (map[string]*models.JobRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, record FROM job_records WHERE partition = ?
	`, string(partition))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]*models.JobRecord)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			continue
		}

		var record models.JobRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		out[id] = &record
	}
	return out, rows.Err()
}

// Move relocates a record between partitions in one transaction so the id
// is never present in both or missing from both
func (s *SQLiteStore) Move(id string, from, to Partition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRow(`
		SELECT record FROM job_records WHERE partition = ? AND id = ?
	`, string(from), id).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO job_records (partition, id, record)
		VALUES (?, ?, ?)
	`, string(to), id, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(`
		DELETE FROM job_records WHERE partition = ? AND id = ?
	`, string(from), id); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return tx.Commit()
}

// Lookup searches both partitions for an id, active first
func (s *SQLiteStore) Lookup(id string) (*models.JobRecord, Partition, error) {
	for _, partition := range []Partition{PartitionActive, PartitionTerminal} {
		record, err := s.Get(partition, id)
		if err == nil {
			return record, partition, nil
		}
		if err != ErrJobNotFound {
			return nil, "", err
		}
	}
	return nil, "", ErrJobNotFound
}

// Purge removes an id from both partitions
func (s *SQLiteStore) Purge(id string) error {
	_, err := s.db.Exec(`DELETE FROM job_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping verifies the database connection
func (s *SQLiteStore) Ping() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
