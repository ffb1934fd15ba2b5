package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhuidobro/renderq/pkg/models"
)

// storeFactories lets every contract test run against both backends.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
			if err != nil {
				t.Fatalf("Failed to create sqlite store: %v", err)
			}
			return s
		},
	}
}

func newTestRecord(id string) *models.JobRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.JobRecord{
		ID:          id,
		Status:      models.StatusPending,
		Message:     "job submitted",
		Prompt:      "a cat",
		CreatedAt:   now,
		LastUpdated: now,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			record := newTestRecord("job-1")
			if err := s.Put(PartitionActive, record.ID, record); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			got, err := s.Get(PartitionActive, "job-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.ID != "job-1" || got.Status != models.StatusPending || got.Prompt != "a cat" {
				t.Errorf("Record mismatch: %+v", got)
			}
		})
	}
}

func TestGetMissingJob(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			_, err := s.Get(PartitionActive, "nope")
			if !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Expected ErrJobNotFound, got %v", err)
			}
		})
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			record := newTestRecord("job-1")
			if err := s.Put(PartitionActive, record.ID, record); err != nil {
				t.Fatal(err)
			}

			if _, err := s.Get(PartitionTerminal, "job-1"); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Record leaked into terminal partition: %v", err)
			}
		})
	}
}

func TestMove(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			record := newTestRecord("job-1")
			record.Status = models.StatusCompleted
			if err := s.Put(PartitionActive, record.ID, record); err != nil {
				t.Fatal(err)
			}

			if err := s.Move("job-1", PartitionActive, PartitionTerminal); err != nil {
				t.Fatalf("Move failed: %v", err)
			}

			// The id must exist in exactly one partition after the move
			if _, err := s.Get(PartitionActive, "job-1"); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Record still present in active partition: %v", err)
			}
			got, err := s.Get(PartitionTerminal, "job-1")
			if err != nil {
				t.Fatalf("Record missing from terminal partition: %v", err)
			}
			if got.Status != models.StatusCompleted {
				t.Errorf("Record mutated during move: %+v", got)
			}
		})
	}
}

func TestMoveMissingJob(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			err := s.Move("nope", PartitionActive, PartitionTerminal)
			if !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Expected ErrJobNotFound, got %v", err)
			}
		})
	}
}

func TestScan(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			for _, id := range []string{"a", "b", "c"} {
				if err := s.Put(PartitionActive, id, newTestRecord(id)); err != nil {
					t.Fatal(err)
				}
			}
			if err := s.Put(PartitionTerminal, "z", newTestRecord("z")); err != nil {
				t.Fatal(err)
			}

			records, err := s.Scan(PartitionActive)
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if len(records) != 3 {
				t.Errorf("Expected 3 active records, got %d", len(records))
			}
			if _, ok := records["z"]; ok {
				t.Error("Terminal record included in active scan")
			}
		})
	}
}

func TestLookupSearchesBothPartitions(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			if err := s.Put(PartitionTerminal, "done", newTestRecord("done")); err != nil {
				t.Fatal(err)
			}

			record, partition, err := s.Lookup("done")
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if partition != PartitionTerminal {
				t.Errorf("Expected terminal partition, got %s", partition)
			}
			if record.ID != "done" {
				t.Errorf("Unexpected record: %+v", record)
			}

			if _, _, err := s.Lookup("nope"); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Expected ErrJobNotFound, got %v", err)
			}
		})
	}
}

func TestPurge(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			if err := s.Put(PartitionActive, "job-1", newTestRecord("job-1")); err != nil {
				t.Fatal(err)
			}

			if err := s.Purge("job-1"); err != nil {
				t.Fatalf("Purge failed: %v", err)
			}
			if _, _, err := s.Lookup("job-1"); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Record survived purge: %v", err)
			}

			// Purging a missing id is not an error
			if err := s.Purge("nope"); err != nil {
				t.Errorf("Purge of missing id should succeed: %v", err)
			}
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			record := newTestRecord("job-1")
			if err := s.Put(PartitionActive, record.ID, record); err != nil {
				t.Fatal(err)
			}

			record.Status = models.StatusProcessing
			record.Message = "job is processing"
			if err := s.Put(PartitionActive, record.ID, record); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(PartitionActive, "job-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != models.StatusProcessing {
				t.Errorf("Overwrite not persisted: %+v", got)
			}
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	record := newTestRecord("job-1")
	if err := s.Put(PartitionActive, record.ID, record); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(PartitionActive, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	got.Status = models.StatusError

	again, err := s.Get(PartitionActive, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != models.StatusPending {
		t.Error("Mutating a returned record must not affect the stored copy")
	}
}

func TestNewStoreTypes(t *testing.T) {
	if _, err := New(Config{Type: "bogus"}); err == nil {
		t.Error("Expected error for unsupported store type")
	}

	s, err := New(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("Memory store creation failed: %v", err)
	}
	s.Close()

	s, err = New(Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("SQLite store creation failed: %v", err)
	}
	s.Close()
}
