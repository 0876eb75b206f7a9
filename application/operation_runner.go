package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sprisk/domain/scan"
	"sprisk/logging"
)

// ErrOperationRunning is returned when Start is called while another
// operation owns the shared state. The existing transcript is untouched.
var ErrOperationRunning = fmt.Errorf("an operation is already running")

// OperationWork is the body of a long-running operation. It receives a
// context cancelled only on process shutdown and a reporter for progress
// text. A returned error fails the operation.
type OperationWork func(ctx context.Context, reporter scan.ProgressReporter) (result any, err error)

// OperationEventPublisher receives terminal operation notifications.
type OperationEventPublisher interface {
	PublishOperationCompleted(session scan.OperationSession)
	PublishOperationFailed(session scan.OperationSession, errMsg string)
}

// OperationRunner coordinates long-running operations: it enforces the
// single-operation-at-a-time invariant, executes the work in an isolated
// goroutine so the serving path never blocks, wires the worker's progress
// into the shared state, and finalizes success or failure.
//
// All operation kinds share one exclusivity flag: enumeration, permission
// analysis, enrichment, and matrix collection are mutually exclusive.
type OperationRunner struct {
	state   *OperationState
	events  OperationEventPublisher
	logger  *logging.Logger
	baseCtx context.Context

	mu      sync.Mutex
	running bool
}

// NewOperationRunner creates a runner bound to the shared state. baseCtx
// is the process lifetime context; workers inherit it so a shutdown stops
// in-flight remote calls. There is no per-operation cancellation path.
func NewOperationRunner(baseCtx context.Context, state *OperationState, events OperationEventPublisher) *OperationRunner {
	return &OperationRunner{
		state:   state,
		events:  events,
		logger:  logging.Default().WithComponent("operation_runner"),
		baseCtx: baseCtx,
	}
}

// Start launches work for the given operation type and scope. It returns
// the new session immediately; the caller never blocks for the work to
// finish. When another operation is running it returns
// ErrOperationRunning without touching the existing state.
func (r *OperationRunner) Start(opType scan.OperationType, scope string, work OperationWork) (*scan.OperationSession, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrOperationRunning
	}
	r.running = true
	r.mu.Unlock()

	session := &scan.OperationSession{
		ID:        uuid.NewString(),
		Type:      opType,
		Scope:     scope,
		StartedAt: time.Now(),
		Phase:     "Initializing",
		Status:    scan.StatusInProgress,
	}
	r.state.Reset(session)

	r.logger.Operation("Operation started", string(opType), scope, "operation_id", session.ID)

	go r.execute(session, work)

	return session, nil
}

// Running reports whether an operation currently holds the exclusivity flag.
func (r *OperationRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// execute runs the work in the worker goroutine and finalizes the state.
func (r *OperationRunner) execute(session *scan.OperationSession, work OperationWork) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	reporter := &stateProgressReporter{state: r.state, session: session}

	result, err := r.runGuarded(work, reporter)
	if err != nil {
		r.state.Append(fmt.Sprintf("Operation failed: %v", err))
		r.state.Fail(err.Error())
		r.logger.OperationError("Operation failed", err, string(session.Type), session.Scope,
			"operation_id", session.ID)
		if r.events != nil {
			r.events.PublishOperationFailed(*session, err.Error())
		}
		return
	}

	if result != nil {
		r.state.CompleteWithResult(result)
	} else {
		r.state.Complete()
	}
	r.logger.Operation("Operation completed", string(session.Type), session.Scope,
		"operation_id", session.ID,
		"duration", time.Since(session.StartedAt).String())
	if r.events != nil {
		r.events.PublishOperationCompleted(*session)
	}
}

// runGuarded invokes the work with panic recovery so a programming error
// in a collector fails the operation instead of crashing the server.
func (r *OperationRunner) runGuarded(work OperationWork, reporter scan.ProgressReporter) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("operation panicked: %v", rec)
		}
	}()
	return work(r.baseCtx, reporter)
}

// stateProgressReporter bridges collector progress into the shared
// transcript, in call order.
type stateProgressReporter struct {
	state   *OperationState
	session *scan.OperationSession
}

func (p *stateProgressReporter) ReportProgress(stage, description string) {
	p.session.Phase = stage
	p.state.Append(fmt.Sprintf("[%s] %s", stage, description))
}

func (p *stateProgressReporter) ReportItemProgress(stage, description string, itemsDone, itemsTotal int) {
	p.session.Phase = stage
	if itemsTotal > 0 {
		p.state.Append(fmt.Sprintf("[%s] %s (%d/%d)", stage, description, itemsDone, itemsTotal))
		return
	}
	p.state.Append(fmt.Sprintf("[%s] %s (%d processed)", stage, description, itemsDone))
}
