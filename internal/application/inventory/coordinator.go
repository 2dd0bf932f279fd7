package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domsaga "github.com/Zhima-Mochi/minishop-checkout/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	coordinatorService = "reservation-coordinator"
	useCaseReserve     = "inventory.reserve"
	useCaseRelease     = "inventory.release"
	useCaseRecover     = "inventory.recover"

	stageReserve = "reserve"
	stageRelease = "release"
	stageRecover = "recover"
)

var (
	// ErrClaimed means another delivery already holds the reservation for the order.
	ErrClaimed = errors.New("inventory: reservation already claimed")
	// ErrReconciliationRequired means an earlier reservation for the order left
	// stock in an unknown state and an operator has to settle it first.
	ErrReconciliationRequired = errors.New("inventory: earlier reservation needs reconciliation")
)

// CompensationError reports steps whose stock could not be given back.
// It unwraps to the failure that triggered the rollback, if any.
type CompensationError struct {
	OrderID string
	Failed  []domsaga.Step
	Cause   error
}

func (e *CompensationError) Error() string {
	msg := fmt.Sprintf("inventory: compensation failed for order %s (%d steps)", e.OrderID, len(e.Failed))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CompensationError) Is(target error) bool { return target == application.ErrCompensation }
func (e *CompensationError) Unwrap() error         { return e.Cause }

type IDGenerator interface {
	NewID() string
}

type OrderReader interface {
	Get(ctx context.Context, id string) (*domorder.Order, error)
}

// Coordinator reserves stock for every line item of an order, or none.
// Progress is written to the saga log before and after each decrement so
// Recover can finish or reverse work interrupted by a crash.
type Coordinator struct {
	stock  dominventory.Repository
	sagas  domsaga.Repository
	orders OrderReader
	ids    IDGenerator

	log           observability.Logger
	in            application.Instruments
	compensations observability.Counter // stock_compensations_total{outcome}
	escalations   observability.Counter // compensation_failures_total{stage}
	now           func() time.Time
}

func NewCoordinator(
	stock dominventory.Repository,
	sagas domsaga.Repository,
	orders OrderReader,
	ids IDGenerator,
	tel observability.Observability,
) *Coordinator {
	tel = observability.Or(tel)
	return &Coordinator{
		stock:         stock,
		sagas:         sagas,
		orders:        orders,
		ids:           ids,
		log:           tel.Logger().With(observability.F("service", coordinatorService)),
		in:            application.NewInstruments(tel),
		compensations: tel.Metrics().Counter(observability.MStockCompensations),
		escalations:   tel.Metrics().Counter(observability.MCompensationFailures),
		now:           time.Now,
	}
}

// Reserve decrements stock for each line item in order. On the first short
// item it gives back what was already taken and returns
// *dominventory.InsufficientStockError. The returned saga is in progress and
// must be closed with Complete or Release.
func (c *Coordinator) Reserve(ctx context.Context, o *domorder.Order) (_ *domsaga.Saga, err error) {
	ctx, run := c.in.Start(ctx, c.log, useCaseReserve, "ReserveStock",
		attribute.String("order.id", o.ID),
		attribute.Int("order.items", len(o.Items)),
	)
	run.With(observability.F("order_id", o.ID))
	defer func() { run.End(err) }()
	logger := run.Logger()

	steps := make([]domsaga.Step, len(o.Items))
	for i, item := range o.Items {
		steps[i] = domsaga.Step{ProductID: item.ProductID, ProductName: item.Name, Quantity: item.Quantity}
	}
	s := domsaga.New(c.ids.NewID(), o.ID, steps)

	if err := c.claim(ctx, s); err != nil {
		switch {
		case errors.Is(err, ErrClaimed):
			run.Mark("ALREADY_CLAIMED")
		case errors.Is(err, ErrReconciliationRequired):
			run.Fail("RECONCILIATION_REQUIRED")
		default:
			run.Fail("SAGA_BEGIN_FAILED")
		}
		return nil, err
	}
	run.With(observability.F("saga_id", s.ID))

	for i, step := range s.Steps {
		s.SetStep(i, domsaga.StepIntent)
		if err := c.sagas.Save(ctx, s); err != nil {
			s.SetStep(i, domsaga.StepPlanned)
			run.Fail("SAGA_WRITE_FAILED")
			return nil, c.rollback(ctx, s, domsaga.StatusAborted, stageReserve,
				fmt.Errorf("%w: record intent: %w", application.ErrStorage, err))
		}

		applied, err := c.stock.ConditionalDecrement(ctx, step.ProductID, step.Quantity)
		if err != nil {
			// the write may have landed; the step stays in intent
			run.Fail("DECREMENT_FAILED")
			return nil, c.rollback(ctx, s, domsaga.StatusAborted, stageReserve,
				fmt.Errorf("%w: decrement %s: %w", application.ErrStorage, step.ProductID, err))
		}
		if !applied {
			s.SetStep(i, domsaga.StepPlanned)
			run.Fail("INSUFFICIENT_STOCK")
			run.With(observability.F("product_id", step.ProductID))
			return nil, c.rollback(ctx, s, domsaga.StatusCompensated, stageReserve,
				&dominventory.InsufficientStockError{ProductID: step.ProductID, ProductName: step.ProductName})
		}

		s.SetStep(i, domsaga.StepCommitted)
		if err := c.sagas.Save(ctx, s); err != nil {
			run.Fail("SAGA_WRITE_FAILED")
			return nil, c.rollback(ctx, s, domsaga.StatusAborted, stageReserve,
				fmt.Errorf("%w: record commit: %w", application.ErrStorage, err))
		}
		logger.Debug("stock_reserved",
			observability.F("product_id", step.ProductID),
			observability.F("quantity", step.Quantity),
		)
	}

	return s, nil
}

// claim begins s, or explains why the order is already taken. A saga left in
// compensation_failed blocks the order until it is reconciled.
func (c *Coordinator) claim(ctx context.Context, s *domsaga.Saga) error {
	for attempt := 0; ; attempt++ {
		err := c.sagas.Begin(ctx, s)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domsaga.ErrConflict) {
			return fmt.Errorf("%w: begin saga: %w", application.ErrStorage, err)
		}

		existing, err := c.sagas.Get(ctx, s.OrderID)
		if err != nil {
			return fmt.Errorf("%w: load claimed saga: %w", application.ErrStorage, err)
		}
		switch {
		case existing.Status == domsaga.StatusCompensationFailed:
			logctx.FromOr(ctx, c.log).Error("saga_needs_reconciliation",
				observability.F("order_id", existing.OrderID),
				observability.F("saga_id", existing.ID),
				observability.F("reason", existing.Reason),
			)
			return &CompensationError{OrderID: existing.OrderID, Failed: existing.Unresolved(), Cause: ErrReconciliationRequired}
		case existing.Status.Reclaimable() && attempt == 0:
			// released between Begin and Get
			continue
		}
		return ErrClaimed
	}
}

// Complete closes a fully committed saga once the order is marked paid.
func (c *Coordinator) Complete(ctx context.Context, s *domsaga.Saga) error {
	s.Finish(domsaga.StatusCompleted, "")
	if err := c.sagas.Save(ctx, s); err != nil {
		return fmt.Errorf("%w: complete saga: %w", application.ErrStorage, err)
	}
	return nil
}

// Release gives back every committed step of s, used when the order could not
// be marked paid after stock was reserved.
func (c *Coordinator) Release(ctx context.Context, s *domsaga.Saga, reason string) (err error) {
	ctx, run := c.in.Start(ctx, c.log, useCaseRelease, "ReleaseStock",
		attribute.String("order.id", s.OrderID),
	)
	run.With(observability.F("order_id", s.OrderID), observability.F("reason", reason))
	defer func() { run.End(err) }()

	if err := c.rollback(ctx, s, domsaga.StatusCompensated, stageRelease, nil); err != nil {
		run.Fail("COMPENSATION_FAILED")
		return err
	}
	return nil
}

// rollback compensates committed steps in commit order and closes the saga
// with final, or with compensation_failed when any increment fails or a step
// is left in intent. It returns cause, or a *CompensationError wrapping it.
// Compensation runs to the end even if ctx is cancelled.
func (c *Coordinator) rollback(ctx context.Context, s *domsaga.Saga, final domsaga.Status, stage string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logger := logctx.FromOr(ctx, c.log)

	failed := c.compensate(ctx, s)
	for _, step := range s.Steps {
		if step.State == domsaga.StepIntent {
			failed = append(failed, step)
		}
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	if len(failed) > 0 {
		s.Finish(domsaga.StatusCompensationFailed, reason)
		c.escalations.Add(1, observability.L("stage", stage))
		logger.Error("compensation_failed",
			observability.F("order_id", s.OrderID),
			observability.F("saga_id", s.ID),
			observability.F("failed_steps", len(failed)),
		)
		c.save(ctx, s)
		return &CompensationError{OrderID: s.OrderID, Failed: failed, Cause: cause}
	}

	s.Finish(final, reason)
	c.save(ctx, s)
	return cause
}

// compensate increments stock for each committed step and returns the steps
// that could not be restored. Every step is attempted.
func (c *Coordinator) compensate(ctx context.Context, s *domsaga.Saga) []domsaga.Step {
	logger := logctx.FromOr(ctx, c.log)
	var failed []domsaga.Step
	for _, i := range s.Committed() {
		step := s.Steps[i]
		if err := c.stock.Increment(ctx, step.ProductID, step.Quantity); err != nil {
			c.compensations.Add(1, observability.L("outcome", "error"))
			logger.Error("stock_compensation_failed",
				observability.F("order_id", s.OrderID),
				observability.F("product_id", step.ProductID),
				observability.F("quantity", step.Quantity),
				observability.F("error", err),
			)
			failed = append(failed, step)
			continue
		}
		c.compensations.Add(1, observability.L("outcome", "success"))
		s.SetStep(i, domsaga.StepCompensated)
		c.save(ctx, s)
	}
	return failed
}

// save persists progress on a best-effort basis; the recovery sweep picks up
// whatever the log last recorded.
func (c *Coordinator) save(ctx context.Context, s *domsaga.Saga) {
	if err := c.sagas.Save(ctx, s); err != nil {
		logctx.FromOr(ctx, c.log).Warn("saga_save_failed",
			observability.F("order_id", s.OrderID),
			observability.F("saga_id", s.ID),
			observability.F("status", string(s.Status)),
			observability.F("error", err),
		)
	}
}
