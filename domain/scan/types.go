package scan

import (
	"time"
)

// OperationType identifies the kind of long-running collection operation.
type OperationType string

const (
	OperationEnumeration        OperationType = "enumeration"
	OperationPermissionAnalysis OperationType = "permission_analysis"
	OperationEnrichment         OperationType = "enrichment"
	OperationPermissionMatrix   OperationType = "permission_matrix"
)

// OperationStatus represents the terminal status of an operation.
type OperationStatus string

const (
	StatusInProgress OperationStatus = "InProgress"
	StatusCompleted  OperationStatus = "Completed"
	StatusFailed     OperationStatus = "Failed"
)

// ScanPolicy governs how deeply the permission tree collector descends
// into items with inherited permissions.
type ScanPolicy string

const (
	// PolicyQuick descends into a sub-container's items only when the
	// sub-container itself has unique permissions, and surfaces only
	// items that themselves break inheritance.
	PolicyQuick ScanPolicy = "quick"

	// PolicyFull visits every sub-container and item regardless of
	// inheritance status.
	PolicyFull ScanPolicy = "full"
)

// ScopeTenant marks an operation that spans the whole tenant rather than
// a single resource.
const ScopeTenant = "tenant"

// OperationSession identifies one run of a collection operation.
// It is created when an operation starts, mutated only by the worker that
// owns it, and replaced when the next operation starts.
type OperationSession struct {
	ID        string
	Type      OperationType
	Scope     string
	StartedAt time.Time
	Phase     string
	Status    OperationStatus
}

// IsTerminal returns true once the session has finished, successfully or not.
func (s *OperationSession) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// DisplayName returns a human-readable name for the operation type.
func (t OperationType) DisplayName() string {
	switch t {
	case OperationEnumeration:
		return "Site Enumeration"
	case OperationPermissionAnalysis:
		return "Permission Analysis"
	case OperationEnrichment:
		return "Data Enrichment"
	case OperationPermissionMatrix:
		return "Permission Matrix"
	default:
		return string(t)
	}
}
