package scan

import (
	"fmt"
)

// Parameters represents user-configurable scan behavior.
// This is a domain value object that encapsulates business rules for
// operation execution.
type Parameters struct {
	// Scope and behavior
	ScanIndividualItems bool       // Deep-scan individual documents/folders within containers
	SkipHidden          bool       // Skip hidden lists and system containers
	Policy              ScanPolicy // Traversal policy for permission matrix collection

	// Remote-call tuning
	BatchSize        int // Preferred page size for enumeration calls
	MaxRetries       int // Retry ceiling for throttled/timed-out calls
	InitialBackoffMs int // First backoff delay in milliseconds
}

// DefaultParameters returns sensible default scan parameters.
func DefaultParameters() *Parameters {
	return &Parameters{
		ScanIndividualItems: true,
		SkipHidden:          true,
		Policy:              PolicyQuick,
		BatchSize:           100,
		MaxRetries:          5,
		InitialBackoffMs:    2000,
	}
}

// ApiConstraints defines the technical limits imposed by the SharePoint APIs.
// These are infrastructure concerns, not user preferences.
type ApiConstraints struct {
	MinBatchSize int // Minimum valid page size (1)
	MaxBatchSize int // SharePoint REST API limit (5000)
	MaxRetries   int // Maximum retry attempts (10)
	MaxBackoffMs int // Backoff ceiling (60 seconds)
}

// DefaultApiConstraints returns SharePoint API technical limits.
func DefaultApiConstraints() *ApiConstraints {
	return &ApiConstraints{
		MinBatchSize: 1,
		MaxBatchSize: 5000,
		MaxRetries:   10,
		MaxBackoffMs: 60000,
	}
}

// Validate checks the parameters against API constraints.
func (p *Parameters) Validate(constraints *ApiConstraints) error {
	if p == nil {
		return fmt.Errorf("scan parameters cannot be nil")
	}
	if constraints == nil {
		constraints = DefaultApiConstraints()
	}

	if p.BatchSize < constraints.MinBatchSize {
		return fmt.Errorf("batch_size must be at least %d, got: %d", constraints.MinBatchSize, p.BatchSize)
	}
	if p.BatchSize > constraints.MaxBatchSize {
		return fmt.Errorf("batch_size cannot exceed %d (SharePoint API limit), got: %d", constraints.MaxBatchSize, p.BatchSize)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got: %d", p.MaxRetries)
	}
	if p.MaxRetries > constraints.MaxRetries {
		return fmt.Errorf("max_retries cannot exceed %d, got: %d", constraints.MaxRetries, p.MaxRetries)
	}

	if p.InitialBackoffMs < 0 {
		return fmt.Errorf("initial_backoff_ms cannot be negative, got: %d", p.InitialBackoffMs)
	}
	if p.InitialBackoffMs > constraints.MaxBackoffMs {
		return fmt.Errorf("initial_backoff_ms cannot exceed %d ms, got: %d", constraints.MaxBackoffMs, p.InitialBackoffMs)
	}

	switch p.Policy {
	case PolicyQuick, PolicyFull:
	default:
		return fmt.Errorf("unknown scan policy: %q", p.Policy)
	}

	return nil
}

// ValidateAndSetDefaults fills zero values with defaults, then validates.
func (p *Parameters) ValidateAndSetDefaults(constraints *ApiConstraints) error {
	if p == nil {
		return fmt.Errorf("scan parameters cannot be nil")
	}
	if constraints == nil {
		constraints = DefaultApiConstraints()
	}

	if p.BatchSize == 0 {
		p.BatchSize = 100
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 5
	}
	if p.InitialBackoffMs == 0 {
		p.InitialBackoffMs = 2000
	}
	if p.Policy == "" {
		p.Policy = PolicyQuick
	}

	return p.Validate(constraints)
}

// EffectiveBatchSize returns the page size to use, falling back to the
// default when unset.
func (p *Parameters) EffectiveBatchSize() int {
	if p.BatchSize <= 0 {
		return 100
	}
	return p.BatchSize
}
