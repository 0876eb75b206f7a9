package application

import (
	"sync"

	"sprisk/domain/scan"
)

// OperationState is the shared progress container written by the single
// active worker and read by polling clients. The log is append-only and
// ordered; a poller may read while the worker is still appending.
type OperationState struct {
	mu       sync.RWMutex
	session  *scan.OperationSession
	messages []string
	running  bool
	complete bool
	errMsg   string
	result   any
}

// ProgressSnapshot is the polling contract: the full transcript so far,
// the terminal flags, and the optional result payload.
type ProgressSnapshot struct {
	Messages []string `json:"messages"`
	Running  bool     `json:"running"`
	Complete bool     `json:"complete"`
	Error    string   `json:"error,omitempty"`
	Result   any      `json:"result,omitempty"`
}

// NewOperationState creates an idle operation state.
func NewOperationState() *OperationState {
	return &OperationState{}
}

// Reset clears the transcript and flags for a new operation. Called only
// by the runner while it holds the single-operation invariant.
func (s *OperationState) Reset(session *scan.OperationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.messages = nil
	s.running = true
	s.complete = false
	s.errMsg = ""
	s.result = nil
}

// Append adds one line of progress text. Lines are observable by pollers
// in the exact order they were produced.
func (s *OperationState) Append(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

// Complete marks the operation finished successfully.
func (s *OperationState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.complete = true
	if s.session != nil {
		s.session.Status = scan.StatusCompleted
	}
}

// CompleteWithResult marks success and attaches a result payload.
func (s *OperationState) CompleteWithResult(result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.complete = true
	s.result = result
	if s.session != nil {
		s.session.Status = scan.StatusCompleted
	}
}

// Fail marks the operation finished with an error.
func (s *OperationState) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.complete = true
	s.errMsg = message
	if s.session != nil {
		s.session.Status = scan.StatusFailed
	}
}

// Running reports whether a worker currently owns the state.
func (s *OperationState) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Session returns the session of the current or most recent operation.
func (s *OperationState) Session() *scan.OperationSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Snapshot returns a copying read of the state for pollers.
func (s *OperationState) Snapshot() ProgressSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]string, len(s.messages))
	copy(messages, s.messages)
	return ProgressSnapshot{
		Messages: messages,
		Running:  s.running,
		Complete: s.complete,
		Error:    s.errMsg,
		Result:   s.result,
	}
}
