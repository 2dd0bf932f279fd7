package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domsaga "github.com/Zhima-Mochi/minishop-checkout/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type RecoveryReport struct {
	Scanned       int
	RolledForward int
	Reversed      int
	Escalated     int
}

// Recover finishes or reverses sagas left in progress for longer than minAge.
// A saga whose order is already paid is completed. Anything else is rolled
// back so the gateway's redelivery can start over. Steps stuck in intent have
// an unknown outcome and are escalated after the known steps are reversed.
func (c *Coordinator) Recover(ctx context.Context, minAge time.Duration) (report RecoveryReport, err error) {
	ctx, run := c.in.Start(ctx, c.log, useCaseRecover, "RecoverReservations",
		attribute.Int64("min_age_ms", minAge.Milliseconds()),
	)
	defer func() {
		run.With(
			observability.F("scanned", report.Scanned),
			observability.F("rolled_forward", report.RolledForward),
			observability.F("reversed", report.Reversed),
			observability.F("escalated", report.Escalated),
		)
		run.End(err)
	}()

	sagas, err := c.sagas.ListUnfinished(ctx, c.now().Add(-minAge))
	if err != nil {
		run.Fail("SAGA_LIST_FAILED")
		return report, fmt.Errorf("%w: list sagas: %w", application.ErrStorage, err)
	}

	var errs []error
	for _, s := range sagas {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report.Scanned++

		o, getErr := c.orders.Get(ctx, s.OrderID)
		switch {
		case getErr == nil:
		case errors.Is(getErr, domorder.ErrNotFound):
			o = nil
		default:
			errs = append(errs, fmt.Errorf("%w: load order %s: %w", application.ErrStorage, s.OrderID, getErr))
			continue
		}

		if o != nil && o.PaymentStatus == domorder.PaymentPaid && o.Status != domorder.StatusPending && !s.HasIntent() {
			if err := c.Complete(ctx, s); err != nil {
				errs = append(errs, err)
				continue
			}
			report.RolledForward++
			continue
		}

		final := domsaga.StatusAborted
		if o != nil && o.Status == domorder.StatusCancelled {
			final = domsaga.StatusCompensated
		}
		rbErr := c.rollback(ctx, s, final, stageRecover, nil)
		if errors.Is(rbErr, application.ErrCompensation) {
			report.Escalated++
			continue
		}
		report.Reversed++
	}

	if len(errs) > 0 {
		run.Fail("RECOVERY_INCOMPLETE")
		return report, errors.Join(errs...)
	}
	return report, nil
}
