package saga

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("saga: not found")
	// ErrConflict is returned by Begin when another reservation already owns the order.
	ErrConflict = errors.New("saga: conflict")
)

type Status string

const (
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusCompensated        Status = "compensated"
	StatusAborted            Status = "aborted"
	StatusCompensationFailed Status = "compensation_failed"
)

// Finished reports whether the recovery sweep should leave the saga alone.
func (s Status) Finished() bool {
	return s != StatusInProgress
}

// Reclaimable reports whether a new reservation may replace a saga in this
// status. Both statuses mean every committed step was given back.
func (s Status) Reclaimable() bool {
	return s == StatusAborted || s == StatusCompensated
}

type StepState string

const (
	StepPlanned     StepState = "planned"
	StepIntent      StepState = "intent"
	StepCommitted   StepState = "committed"
	StepCompensated StepState = "compensated"
)

// Step is one line item reservation. An intent step has an unknown outcome:
// the decrement may or may not have been applied.
type Step struct {
	ProductID   string
	ProductName string
	Quantity    int
	State       StepState
}

// Saga is the persisted log of one order's stock reservation.
type Saga struct {
	ID        string
	OrderID   string
	Status    Status
	Steps     []Step
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(id, orderID string, steps []Step) *Saga {
	now := time.Now().UTC()
	planned := make([]Step, len(steps))
	for i, step := range steps {
		step.State = StepPlanned
		planned[i] = step
	}
	return &Saga{
		ID:        id,
		OrderID:   orderID,
		Status:    StatusInProgress,
		Steps:     planned,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Saga) SetStep(i int, state StepState) {
	s.Steps[i].State = state
	s.touch()
}

func (s *Saga) Finish(status Status, reason string) {
	s.Status = status
	s.Reason = reason
	s.touch()
}

// Committed returns the indexes of committed steps in commit order.
func (s *Saga) Committed() []int {
	var idx []int
	for i, step := range s.Steps {
		if step.State == StepCommitted {
			idx = append(idx, i)
		}
	}
	return idx
}

// HasIntent reports whether some step was left between intent and commit.
func (s *Saga) HasIntent() bool {
	for _, step := range s.Steps {
		if step.State == StepIntent {
			return true
		}
	}
	return false
}

// Unresolved returns the steps whose stock may still be held: committed steps
// and steps with an unknown outcome.
func (s *Saga) Unresolved() []Step {
	var steps []Step
	for _, step := range s.Steps {
		if step.State == StepCommitted || step.State == StepIntent {
			steps = append(steps, step)
		}
	}
	return steps
}

func (s *Saga) Clone() *Saga {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Steps = append([]Step(nil), s.Steps...)
	return &clone
}

func (s *Saga) touch() {
	s.UpdatedAt = time.Now().UTC()
}

type Repository interface {
	// Begin atomically claims the order for a reservation. It succeeds when no
	// saga exists for the order or the existing one is reclaimable, and
	// returns ErrConflict otherwise.
	Begin(ctx context.Context, s *Saga) error
	Save(ctx context.Context, s *Saga) error
	Get(ctx context.Context, orderID string) (*Saga, error)
	// ListUnfinished returns in-progress sagas last updated before olderThan.
	ListUnfinished(ctx context.Context, olderThan time.Time) ([]*Saga, error)
}
