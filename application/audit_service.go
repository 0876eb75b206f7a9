package application

import (
	"context"
	"fmt"
	"time"

	"sprisk/datastore"
	"sprisk/domain/risk"
	"sprisk/domain/scan"
	"sprisk/domain/sharepoint"
	"sprisk/infrastructure/checkpoint"
	"sprisk/infrastructure/throttle"
	"sprisk/logging"
)

// Collector is the collection engine the audit service drives. Implemented
// by the SharePoint data collector; tests substitute fakes.
type Collector interface {
	CollectTenantData(ctx context.Context, scope string, reporter scan.ProgressReporter) error
	AnalyzeSitePermissions(ctx context.Context, siteURL string, policy scan.ScanPolicy, reporter scan.ProgressReporter) (*sharepoint.PermissionMatrix, error)
	CollectSharingData(ctx context.Context, scope string, reporter scan.ProgressReporter) error
}

// MatrixSummary is the result payload attached to a finished permission
// matrix operation.
type MatrixSummary struct {
	SiteURL           string    `json:"site_url"`
	Policy            string    `json:"policy"`
	TotalItems        int       `json:"total_items"`
	UniquePermissions int       `json:"unique_permissions"`
	TotalPrincipals   int       `json:"total_principals"`
	CompletedAt       time.Time `json:"completed_at"`
}

// AuditService is the application facade for the audit engine: it starts
// the long-running collection operations through the runner, exposes the
// shared progress state to pollers, and evaluates risk synchronously
// against the collected data.
type AuditService struct {
	runner      *OperationRunner
	state       *OperationState
	collector   Collector
	checkpoints *checkpoint.Store
	guard       *throttle.Guard
	store       *datastore.Store
	engine      *risk.Engine
	logger      *logging.Logger
}

// NewAuditService wires the audit service dependencies.
func NewAuditService(
	runner *OperationRunner,
	state *OperationState,
	collector Collector,
	checkpoints *checkpoint.Store,
	guard *throttle.Guard,
	store *datastore.Store,
	engine *risk.Engine,
) *AuditService {
	return &AuditService{
		runner:      runner,
		state:       state,
		collector:   collector,
		checkpoints: checkpoints,
		guard:       guard,
		store:       store,
		engine:      engine,
		logger:      logging.Default().WithComponent("audit_service"),
	}
}

// StartEnumeration launches tenant site/user/group enumeration.
func (s *AuditService) StartEnumeration(scope string) (*scan.OperationSession, error) {
	if scope == "" {
		scope = scan.ScopeTenant
	}
	return s.runner.Start(scan.OperationEnumeration, scope, func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		s.beginCheckpoint(scan.OperationEnumeration, scope, reporter)
		if err := s.collector.CollectTenantData(ctx, scope, reporter); err != nil {
			s.finishCheckpoint(scan.StatusFailed, reporter)
			return nil, err
		}
		s.finishCheckpoint(scan.StatusCompleted, reporter)
		return nil, nil
	})
}

// StartPermissionAnalysis launches the permission analysis of one site
// under the given policy.
func (s *AuditService) StartPermissionAnalysis(siteURL string, policy scan.ScanPolicy) (*scan.OperationSession, error) {
	if siteURL == "" {
		return nil, fmt.Errorf("site URL is required for permission analysis")
	}
	if policy == "" {
		policy = scan.PolicyQuick
	}
	return s.runner.Start(scan.OperationPermissionAnalysis, siteURL, func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		s.beginCheckpoint(scan.OperationPermissionAnalysis, siteURL, reporter)
		if _, err := s.collector.AnalyzeSitePermissions(ctx, siteURL, policy, reporter); err != nil {
			s.finishCheckpoint(scan.StatusFailed, reporter)
			return nil, err
		}
		s.finishCheckpoint(scan.StatusCompleted, reporter)
		return nil, nil
	})
}

// StartEnrichment launches sharing-link collection across the known sites.
func (s *AuditService) StartEnrichment(scope string) (*scan.OperationSession, error) {
	if scope == "" {
		scope = scan.ScopeTenant
	}
	return s.runner.Start(scan.OperationEnrichment, scope, func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		s.beginCheckpoint(scan.OperationEnrichment, scope, reporter)
		if err := s.collector.CollectSharingData(ctx, scope, reporter); err != nil {
			s.finishCheckpoint(scan.StatusFailed, reporter)
			return nil, err
		}
		s.finishCheckpoint(scan.StatusCompleted, reporter)
		return nil, nil
	})
}

// StartMatrixCollection launches a permission matrix collection whose
// summary is attached to the progress result payload on completion.
func (s *AuditService) StartMatrixCollection(siteURL string, policy scan.ScanPolicy) (*scan.OperationSession, error) {
	if siteURL == "" {
		return nil, fmt.Errorf("site URL is required for matrix collection")
	}
	if policy == "" {
		policy = scan.PolicyQuick
	}
	return s.runner.Start(scan.OperationPermissionMatrix, siteURL, func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		s.beginCheckpoint(scan.OperationPermissionMatrix, siteURL, reporter)
		matrix, err := s.collector.AnalyzeSitePermissions(ctx, siteURL, policy, reporter)
		if err != nil {
			s.finishCheckpoint(scan.StatusFailed, reporter)
			return nil, err
		}
		s.finishCheckpoint(scan.StatusCompleted, reporter)
		return &MatrixSummary{
			SiteURL:           siteURL,
			Policy:            matrix.Policy,
			TotalItems:        matrix.TotalItems,
			UniquePermissions: matrix.UniquePermissions,
			TotalPrincipals:   matrix.TotalPrincipals,
			CompletedAt:       matrix.CompletedAt,
		}, nil
	})
}

// GetProgress returns the polling snapshot of the shared operation state.
func (s *AuditService) GetProgress() ProgressSnapshot {
	return s.state.Snapshot()
}

// GetRiskAssessment evaluates the risk rules against the current data
// store contents. Synchronous and side-effect-free.
func (s *AuditService) GetRiskAssessment() *risk.Assessment {
	return s.engine.Assess(s.store.Snapshot())
}

// DataCounts reports the sizes of the collected data sets.
func (s *AuditService) DataCounts() map[string]int {
	return s.store.Counts()
}

// beginCheckpoint resets the retry counters, surfaces any incomplete
// previous run of the same operation type, and opens a fresh checkpoint.
func (s *AuditService) beginCheckpoint(opType scan.OperationType, scope string, reporter scan.ProgressReporter) {
	s.guard.ResetCounters()

	if prev := s.checkpoints.Load(opType); prev != nil {
		reporter.ReportProgress(scan.StandardStages.Initializing,
			fmt.Sprintf("Detected incomplete %s run from %s (phase %q), restarting",
				opType.DisplayName(), prev.StartedAt.Format(time.RFC3339), prev.Phase))
		s.logger.Warn("Incomplete previous run detected",
			"operation_type", string(opType),
			"previous_scope", prev.Scope,
			"previous_phase", prev.Phase)
	}

	s.checkpoints.Start(opType, scope)
	reporter.ReportProgress(scan.StandardStages.Initializing,
		fmt.Sprintf("Starting %s for %s", opType.DisplayName(), scope))
}

// finishCheckpoint closes the checkpoint and reports the retry totals the
// operation accumulated.
func (s *AuditService) finishCheckpoint(status scan.OperationStatus, reporter scan.ProgressReporter) {
	s.checkpoints.Complete(status)

	retries, throttleEvents := s.guard.Counters()
	if retries > 0 {
		reporter.ReportProgress(scan.StandardStages.Finalization,
			fmt.Sprintf("Remote API retried %d times (%d throttle events)", retries, throttleEvents))
	}
}
