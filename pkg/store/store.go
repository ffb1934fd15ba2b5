package store

import (
	"errors"
	"fmt"

	"github.com/rhuidobro/renderq/pkg/models"
)

// Partition names the two logical job record spaces. A job id lives in
// exactly one partition at any time.
type Partition string

const (
	PartitionActive   Partition = "active"
	PartitionTerminal Partition = "terminal"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store persists job records in two partitions. All operations are
// per-key atomic; Move relocates a record between partitions as a single
// write-then-delete so an id is never duplicated.
type Store interface {
	Put(partition Partition, id string, record *models.JobRecord) error
	Get(partition Partition, id string) (*models.JobRecord, error)
	Delete(partition Partition, id string) error
	Scan(partition Partition) (map[string]*models.JobRecord, error)
	Move(id string, from, to Partition) error

	// Lookup searches both partitions for an id
	Lookup(id string) (*models.JobRecord, Partition, error)
	// Purge removes an id from both partitions; missing ids are not errors
	Purge(id string) error

	Ping() error
	Close() error
}

// Config holds store configuration
type Config struct {
	// Type selects the backend: "sqlite" or "memory"
	Type string
	// Path is the SQLite database file
	Path string
}

// New creates a store based on configuration
func New(config Config) (Store, error) {
	switch config.Type {
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "renderq.db"
		}
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
