package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the shape of a job's payload and which domain handler
// routes it.
type Kind string

const (
	KindDeferredEffect                 Kind = "DeferredEffect"
	KindSettlementGrowth               Kind = "SettlementGrowth"
	KindStructureMaintenance           Kind = "StructureMaintenance"
	KindEventExpiration                Kind = "EventExpiration"
	KindRecalculateSettlementSchedules Kind = "RecalculateSettlementSchedules"
	KindRecalculateStructureSchedules  Kind = "RecalculateStructureSchedules"
)

// Priority is an intrinsic property of a job, not a reservation-time hint.
// Higher numeric value is reserved earlier.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

// String renders a priority for logging.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the four defined priority classes.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// BackoffKind selects how Fail computes the delay before the next attempt.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// Backoff describes the retry delay policy for a job.
type Backoff struct {
	Kind         BackoffKind   `json:"kind"`
	InitialDelay time.Duration `json:"initial_delay"`
	// Ceiling caps the computed delay. Zero means unbounded.
	Ceiling time.Duration `json:"ceiling,omitempty"`
}

// DefaultBackoff matches spec.md §4.1: exponential, initial 5s, unbounded
// ceiling at the queue level.
func DefaultBackoff() Backoff {
	return Backoff{Kind: BackoffExponential, InitialDelay: 5 * time.Second}
}

// Delay returns the backoff delay for the Nth attempt (1-indexed), capped
// at Ceiling if it is non-zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch b.Kind {
	case BackoffFixed:
		d = b.InitialDelay
	default: // Exponential
		d = b.InitialDelay * time.Duration(int64(1)<<uint(attempt-1))
	}
	if b.Ceiling > 0 && d > b.Ceiling {
		d = b.Ceiling
	}
	return d
}

// Status mirrors the dispatcher's view of a job's lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a unit of work. Payload is a tagged variant keyed by Kind; see
// payload.go for the concrete shapes and decode helpers.
type Job struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	CampaignID   string          `json:"campaign_id"`
	Priority     Priority        `json:"priority"`
	Payload      json.RawMessage `json:"payload"`
	ReadyAt      time.Time       `json:"ready_at"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      Backoff         `json:"backoff"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastError    string          `json:"last_error,omitempty"`

	// LeaseOwner and LeaseEpoch identify the current reservation, if any.
	// LeaseEpoch increments every time the job is reserved so that a stale
	// worker's Ack/Fail after lease expiry is a no-op (idempotent per
	// spec.md §4.1).
	LeaseOwner string    `json:"lease_owner,omitempty"`
	LeaseEpoch int64     `json:"lease_epoch"`
	LeaseUntil time.Time `json:"lease_until,omitempty"`
}

// SystemCampaign is the reserved tenancy key for fleet-wide periodic checks.
const SystemCampaign = "SYSTEM"

// New constructs a job ready for Enqueue, applying the defaults from
// spec.md §4.1 (Normal priority, 3 attempts, exponential backoff starting
// at 5s) to whatever the caller didn't set.
func New(kind Kind, campaignID string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		CampaignID:  campaignID,
		Priority:    PriorityNormal,
		Payload:     raw,
		ReadyAt:     now,
		MaxAttempts: 3,
		Backoff:     DefaultBackoff(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Touch refreshes UpdatedAt. Call after any mutation persisted to the store.
func (j *Job) Touch() {
	j.UpdatedAt = time.Now()
}

// DeadLetterEntry is the terminal resting place for a job that exhausted
// retries or hit an unrecoverable condition (spec.md §3).
type DeadLetterEntry struct {
	OriginalJobID string          `json:"original_job_id"`
	Kind          Kind            `json:"kind"`
	CampaignID    string          `json:"campaign_id"`
	Payload       json.RawMessage `json:"payload"`
	LastError     ErrorDetail     `json:"last_error"`
	AttemptsMade  int             `json:"attempts_made"`
	FailedAt      time.Time       `json:"failed_at"`
}

// ErrorDetail captures a message plus an optional stack trace, used both
// in dead-letter entries and panic-recovery reporting.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
