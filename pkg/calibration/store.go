package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence interface for calibration records.
// The engine only requires that records survive restarts and that the
// newest record is retrievable; the derivation tag travels with each
// record so the right inverse formula is applied after a reload.
type Store interface {
	// Save persists a record, assigning an ID and timestamp if unset.
	Save(rec *Record) error

	// Get retrieves a record by ID.
	Get(id string) (*Record, error)

	// Latest returns the most recently created record.
	Latest() (*Record, error)

	// List returns all records, newest first.
	List() ([]*Record, error)

	// Delete removes a record by ID.
	Delete(id string) error

	// Count returns the number of stored records.
	Count() int
}

// JSONStore implements Store using a JSON file for persistence.
type JSONStore struct {
	path    string
	records map[string]*Record
	mu      sync.RWMutex
}

var _ Store = (*JSONStore)(nil)

// storeData is the JSON structure of the store file.
type storeData struct {
	Version   int       `json:"version"`
	UpdatedAt string    `json:"updated_at"`
	Records   []*Record `json:"records"`
}

const storeVersion = 1

// NewJSONStore creates a JSON-backed store at the given path. If the file
// doesn't exist it will be created on first save.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path:    path,
		records: make(map[string]*Record),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}

	return store, nil
}

// load reads the store from disk.
func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	s.records = make(map[string]*Record)
	for _, rec := range stored.Records {
		s.records[rec.ID] = rec
	}

	return nil
}

// save writes the store to disk with a temp-file + rename (atomic write).
// Caller must hold the write lock.
func (s *JSONStore) save() error {
	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}

	stored := storeData{
		Version:   storeVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Records:   records,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Save persists a record, assigning an ID and creation time if unset.
func (s *JSONStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.records[rec.ID] = rec
	return s.save()
}

// Get retrieves a record by ID.
func (s *JSONStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Latest returns the most recently created record. Every static-photo
// measurement consumes this record until a new calibration replaces it.
func (s *JSONStore) Latest() (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Record
	for _, rec := range s.records {
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNoRecords
	}
	return latest, nil
}

// List returns all records sorted newest first.
func (s *JSONStore) List() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}

	for i := 0; i < len(records)-1; i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].CreatedAt.After(records[i].CreatedAt) {
				records[i], records[j] = records[j], records[i]
			}
		}
	}

	return records, nil
}

// Delete removes a record by ID.
func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}

	delete(s.records, id)
	return s.save()
}

// Count returns the total number of records.
func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Path returns the file path of the store.
func (s *JSONStore) Path() string {
	return s.path
}
