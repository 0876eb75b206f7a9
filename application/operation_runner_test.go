package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprisk/domain/scan"
)

// recordingPublisher captures terminal events for assertions.
type recordingPublisher struct {
	mu        sync.Mutex
	completed []scan.OperationSession
	failed    []scan.OperationSession
	errors    []string
}

func (p *recordingPublisher) PublishOperationCompleted(session scan.OperationSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, session)
}

func (p *recordingPublisher) PublishOperationFailed(session scan.OperationSession, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, session)
	p.errors = append(p.errors, errMsg)
}

// waitForCompletion polls the state until the operation finishes.
func waitForCompletion(t *testing.T, state *OperationState) ProgressSnapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		snapshot := state.Snapshot()
		if snapshot.Complete {
			return snapshot
		}
		select {
		case <-deadline:
			t.Fatal("operation did not complete within timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOperationRunner_Start_RunsWorkAsynchronously(t *testing.T) {
	// Arrange
	state := NewOperationState()
	publisher := &recordingPublisher{}
	runner := NewOperationRunner(context.Background(), state, publisher)

	release := make(chan struct{})
	work := func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		<-release
		reporter.ReportProgress(scan.StandardStages.SiteDiscovery, "working")
		return nil, nil
	}

	// Act
	session, err := runner.Start(scan.OperationEnumeration, scan.ScopeTenant, work)

	// Assert: Start returns before the work finishes.
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.ID)
	assert.True(t, state.Running())

	close(release)
	snapshot := waitForCompletion(t, state)
	assert.True(t, snapshot.Complete)
	assert.False(t, snapshot.Running)
	assert.Empty(t, snapshot.Error)
}

func TestOperationRunner_Start_RejectsConcurrentOperations(t *testing.T) {
	// Arrange
	state := NewOperationState()
	runner := NewOperationRunner(context.Background(), state, &recordingPublisher{})

	release := make(chan struct{})
	_, err := runner.Start(scan.OperationEnumeration, scan.ScopeTenant, func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		reporter.ReportProgress(scan.StandardStages.SiteDiscovery, "first operation")
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	// Give the first worker time to write its progress line.
	require.Eventually(t, func() bool {
		return len(state.Snapshot().Messages) > 0
	}, time.Second, 5*time.Millisecond)
	before := state.Snapshot()

	// Act
	session, err := runner.Start(scan.OperationEnrichment, scan.ScopeTenant, func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		return nil, nil
	})

	// Assert: rejection leaves the in-flight transcript untouched.
	assert.ErrorIs(t, err, ErrOperationRunning)
	assert.Nil(t, session)
	after := state.Snapshot()
	assert.Equal(t, before.Messages, after.Messages)
	assert.True(t, after.Running)

	close(release)
	waitForCompletion(t, state)
}

func TestOperationRunner_SequentialOperationsAllowed(t *testing.T) {
	// Arrange
	state := NewOperationState()
	runner := NewOperationRunner(context.Background(), state, &recordingPublisher{})

	work := func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		return nil, nil
	}

	// Act: run two operations back to back.
	_, err := runner.Start(scan.OperationEnumeration, scan.ScopeTenant, work)
	require.NoError(t, err)
	waitForCompletion(t, state)

	require.Eventually(t, func() bool {
		return !runner.Running()
	}, time.Second, 5*time.Millisecond)

	session, err := runner.Start(scan.OperationEnrichment, scan.ScopeTenant, work)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, scan.OperationEnrichment, session.Type)
	waitForCompletion(t, state)
}

func TestOperationRunner_TranscriptIsOrdered(t *testing.T) {
	// Arrange
	state := NewOperationState()
	runner := NewOperationRunner(context.Background(), state, &recordingPublisher{})

	work := func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
		reporter.ReportProgress("Phase A", "first")
		reporter.ReportProgress("Phase B", "second")
		reporter.ReportItemProgress("Phase B", "items", 3, 10)
		return nil, nil
	}

	// Act
	_, err := runner.Start(scan.OperationEnumeration, scan.ScopeTenant, work)
	require.NoError(t, err)
	snapshot := waitForCompletion(t, state)

	// Assert
	assert.Equal(t, []string{
		"[Phase A] first",
		"[Phase B] second",
		"[Phase B] items (3/10)",
	}, snapshot.Messages)
}

func TestOperationRunner_WorkErrorFailsOperation(t *testing.T) {
	// Arrange
	state := NewOperationState()
	publisher := &recordingPublisher{}
	runner := NewOperationRunner(context.Background(), state, publisher)

	// Act
	session, err := runner.Start(scan.OperationPermissionAnalysis, "https://contoso.sharepoint.com",
		func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
			return nil, errors.New("remote API exploded")
		})
	require.NoError(t, err)
	snapshot := waitForCompletion(t, state)

	// Assert
	assert.True(t, snapshot.Complete)
	assert.Equal(t, "remote API exploded", snapshot.Error)
	assert.Contains(t, snapshot.Messages, "Operation failed: remote API exploded")
	assert.Equal(t, scan.StatusFailed, session.Status)

	require.Eventually(t, func() bool {
		publisher.mu.Lock()
		defer publisher.mu.Unlock()
		return len(publisher.failed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOperationRunner_PanicIsRecoveredAsFailure(t *testing.T) {
	// Arrange
	state := NewOperationState()
	runner := NewOperationRunner(context.Background(), state, &recordingPublisher{})

	// Act
	_, err := runner.Start(scan.OperationEnumeration, scan.ScopeTenant,
		func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
			panic("collector bug")
		})
	require.NoError(t, err)
	snapshot := waitForCompletion(t, state)

	// Assert: the serving process survives and the failure is surfaced.
	assert.Contains(t, snapshot.Error, "collector bug")
	assert.False(t, runner.Running())
}

func TestOperationRunner_ResultPayloadIsAttached(t *testing.T) {
	// Arrange
	state := NewOperationState()
	publisher := &recordingPublisher{}
	runner := NewOperationRunner(context.Background(), state, publisher)

	type payload struct{ Count int }

	// Act
	_, err := runner.Start(scan.OperationPermissionMatrix, "https://contoso.sharepoint.com",
		func(ctx context.Context, reporter scan.ProgressReporter) (any, error) {
			return &payload{Count: 42}, nil
		})
	require.NoError(t, err)
	snapshot := waitForCompletion(t, state)

	// Assert
	require.NotNil(t, snapshot.Result)
	assert.Equal(t, &payload{Count: 42}, snapshot.Result)

	require.Eventually(t, func() bool {
		publisher.mu.Lock()
		defer publisher.mu.Unlock()
		return len(publisher.completed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOperationState_Reset_ClearsPreviousRun(t *testing.T) {
	// Arrange
	state := NewOperationState()
	state.Reset(&scan.OperationSession{ID: "one", Status: scan.StatusInProgress})
	state.Append("old line")
	state.Fail("old failure")

	// Act
	state.Reset(&scan.OperationSession{ID: "two", Status: scan.StatusInProgress})

	// Assert
	snapshot := state.Snapshot()
	assert.Empty(t, snapshot.Messages)
	assert.True(t, snapshot.Running)
	assert.False(t, snapshot.Complete)
	assert.Empty(t, snapshot.Error)
	assert.Nil(t, snapshot.Result)
	assert.Equal(t, "two", state.Session().ID)
}
