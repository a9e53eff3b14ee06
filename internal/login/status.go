package login

import (
	"sync"
	"time"
)

// State is the progress of a login attempt.
type State string

// Login attempt states.
const (
	StateIdle      State = "idle"
	StateWaiting   State = "waiting_for_scan"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is a snapshot of the most recent login attempt.
type Status struct {
	AttemptID  string    `json:"attempt_id,omitempty"`
	State      State     `json:"state"`
	QRCodePath string    `json:"qrcode_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StatusReporter tracks login progress for the admin API.
type StatusReporter struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusReporter creates an idle reporter.
func NewStatusReporter() *StatusReporter {
	return &StatusReporter{status: Status{State: StateIdle}}
}

// Begin starts tracking a new attempt.
func (r *StatusReporter) Begin(attemptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = Status{AttemptID: attemptID, State: StateWaiting, UpdatedAt: time.Now().UTC()}
}

// SetQRCode records where the login screenshot was saved.
func (r *StatusReporter) SetQRCode(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.QRCodePath = path
	r.status.UpdatedAt = time.Now().UTC()
}

// Finish records the end of the current attempt.
func (r *StatusReporter) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.UpdatedAt = time.Now().UTC()
	if err != nil {
		r.status.State = StateFailed
		r.status.Error = err.Error()
		return
	}
	r.status.State = StateSucceeded
	r.status.Error = ""
}

// Snapshot returns the current status.
func (r *StatusReporter) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// QRCode returns the latest screenshot path while an attempt is waiting.
func (r *StatusReporter) QRCode() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.status.State != StateWaiting || r.status.QRCodePath == "" {
		return "", false
	}
	return r.status.QRCodePath, true
}
