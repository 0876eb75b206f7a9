package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sprisk/domain/scan"
	"sprisk/logging"
)

// Record is the on-disk projection of an operation session plus per-phase
// item counters. A record is eligible for resume only while its status is
// InProgress; completed checkpoints are deleted so a future run never
// attempts to resume a finished operation.
type Record struct {
	OperationType   scan.OperationType   `json:"OperationType"`
	Scope           string               `json:"Scope"`
	StartedAt       time.Time            `json:"StartedAt"`
	LastUpdated     time.Time            `json:"LastUpdated"`
	Phase           string               `json:"Phase"`
	CompletedPhases []string             `json:"CompletedPhases"`
	ProcessedItems  map[string]int       `json:"ProcessedItems"`
	TotalItems      map[string]int       `json:"TotalItems"`
	Status          scan.OperationStatus `json:"Status"`
	CompletedAt     *time.Time           `json:"CompletedAt,omitempty"`
}

// Store persists phase-by-phase operation progress to one JSON file per
// operation type. Persistence is best-effort: write failures are logged
// as warnings and never abort the operation being tracked.
type Store struct {
	dir    string
	logger *logging.Logger

	mu      sync.Mutex
	current *Record
}

// NewStore creates a checkpoint store rooted at dir, creating the
// directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logging.Default().WithComponent("checkpoint_store"),
	}, nil
}

// Start creates and persists a new record for the operation with phase
// "Initializing" and empty counters.
func (s *Store) Start(opType scan.OperationType, scope string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.current = &Record{
		OperationType:   opType,
		Scope:           scope,
		StartedAt:       now,
		LastUpdated:     now,
		Phase:           "Initializing",
		CompletedPhases: []string{},
		ProcessedItems:  map[string]int{},
		TotalItems:      map[string]int{},
		Status:          scan.StatusInProgress,
	}
	s.persist(s.current)
	return s.current
}

// Update changes the phase name and/or a named counter and re-persists.
// Pass an empty phase to keep the current one; pass an empty itemKey to
// skip counter updates.
func (s *Store) Update(phase, itemKey string, processed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	if phase != "" && phase != s.current.Phase {
		s.current.CompletedPhases = append(s.current.CompletedPhases, s.current.Phase)
		s.current.Phase = phase
	}
	if itemKey != "" {
		s.current.ProcessedItems[itemKey] = processed
		if total > 0 {
			s.current.TotalItems[itemKey] = total
		}
	}
	s.current.LastUpdated = time.Now()
	s.persist(s.current)
}

// Complete marks the record terminal and persists it. When the status is
// Completed the backing file is deleted; failed checkpoints are retained
// for diagnostic inspection.
func (s *Store) Complete(status scan.OperationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	now := time.Now()
	s.current.Status = status
	s.current.CompletedAt = &now
	s.current.LastUpdated = now

	if status == scan.StatusCompleted {
		path := s.path(s.current.OperationType)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to remove completed checkpoint", "path", path, "error", err.Error())
		}
	} else {
		s.persist(s.current)
	}
	s.current = nil
}

// Load returns the persisted record for the operation type only if its
// status is InProgress; any terminal checkpoint (or no file at all)
// yields nil.
func (s *Store) Load(opType scan.OperationType) *Record {
	data, err := os.ReadFile(s.path(opType))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to read checkpoint", "operation_type", string(opType), "error", err.Error())
		}
		return nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("Failed to decode checkpoint", "operation_type", string(opType), "error", err.Error())
		return nil
	}
	if rec.Status != scan.StatusInProgress {
		return nil
	}
	return &rec
}

// path returns the checkpoint file for an operation type, addressed by a
// normalized type name.
func (s *Store) path(opType scan.OperationType) string {
	name := strings.ToLower(string(opType))
	return filepath.Join(s.dir, name+".checkpoint.json")
}

// persist writes the record to disk. Failures are logged, not returned:
// checkpointing is best-effort, not a correctness requirement of the
// collection itself.
func (s *Store) persist(rec *Record) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.logger.Warn("Failed to encode checkpoint", "operation_type", string(rec.OperationType), "error", err.Error())
		return
	}
	path := s.path(rec.OperationType)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("Failed to write checkpoint", "path", path, "error", err.Error())
	}
}
