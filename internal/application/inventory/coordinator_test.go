package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domsaga "github.com/Zhima-Mochi/minishop-checkout/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/obstest"
)

// flakyStock injects store failures. lostReply applies the decrement and
// then fails, as when the reply never reaches the client. Like pgx and
// go-redis, it refuses to work on a cancelled context.
type flakyStock struct {
	dominventory.Repository
	lostReply    map[string]error
	incrementErr map[string]error
}

func (f *flakyStock) ConditionalDecrement(ctx context.Context, productID string, quantity int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	applied, err := f.Repository.ConditionalDecrement(ctx, productID, quantity)
	if err == nil && applied {
		if lost := f.lostReply[productID]; lost != nil {
			return false, lost
		}
	}
	return applied, err
}

func (f *flakyStock) Increment(ctx context.Context, productID string, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.incrementErr[productID]; err != nil {
		return err
	}
	return f.Repository.Increment(ctx, productID, quantity)
}

// flakySagas fails the failAt-th Save, counting from one.
type flakySagas struct {
	domsaga.Repository
	failAt int
	saves  int
}

func (f *flakySagas) Save(ctx context.Context, s *domsaga.Saga) error {
	f.saves++
	if f.saves == f.failAt {
		return errors.New("saga log unavailable")
	}
	return f.Repository.Save(ctx, s)
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string { s.n++; return fmt.Sprintf("saga-%d", s.n) }

type fixture struct {
	stock   *flakyStock
	sagas   *memory.SagaRepository
	sagaLog *flakySagas
	orders  *memory.OrderRepository
	tel     *obstest.Observability
	coord   *Coordinator
}

func newFixture(t *testing.T, stock map[string]int) *fixture {
	t.Helper()
	ctx := context.Background()
	inv := memory.NewInventoryRepository()
	for id, qty := range stock {
		require.NoError(t, inv.Put(ctx, &dominventory.Item{ProductID: id, Stock: qty}))
	}
	f := &fixture{
		stock:  &flakyStock{Repository: inv, lostReply: map[string]error{}, incrementErr: map[string]error{}},
		sagas:  memory.NewSagaRepository(),
		orders: memory.NewOrderRepository(),
		tel:    obstest.New(),
	}
	f.sagaLog = &flakySagas{Repository: f.sagas}
	f.coord = NewCoordinator(f.stock, f.sagaLog, f.orders, &seqIDs{}, f.tel)
	return f
}

func (f *fixture) order(t *testing.T, id string, items ...domorder.LineItem) *domorder.Order {
	t.Helper()
	o, err := domorder.New(id, "gw_"+id, domorder.Customer{Email: "c@example.com"}, domorder.ShippingAddress{}, items, 0)
	require.NoError(t, err)
	require.NoError(t, f.orders.Insert(context.Background(), o))
	return o
}

func (f *fixture) stockOf(t *testing.T, productID string) int {
	t.Helper()
	item, err := f.stock.Get(context.Background(), productID)
	require.NoError(t, err)
	return item.Stock
}

func item(id string, qty int) domorder.LineItem {
	return domorder.LineItem{ProductID: id, Name: "Product " + id, UnitPrice: 100, Quantity: qty}
}

func TestReserveAllItems(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5, "B": 3})
	o := f.order(t, "ORD-1", item("A", 2), item("B", 3))
	ctx := context.Background()

	s, err := f.coord.Reserve(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusInProgress, s.Status)
	assert.Equal(t, []int{0, 1}, s.Committed())
	assert.Equal(t, 3, f.stockOf(t, "A"))
	assert.Equal(t, 0, f.stockOf(t, "B"))

	require.NoError(t, f.coord.Complete(ctx, s))
	stored, err := f.sagas.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompleted, stored.Status)
}

func TestReserveRollsBackOnShortItem(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5, "B": 3, "C": 10})
	o := f.order(t, "ORD-1", item("A", 2), item("B", 10), item("C", 1))

	_, err := f.coord.Reserve(context.Background(), o)

	var short *dominventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "B", short.ProductID)
	assert.Equal(t, "Product B", short.ProductName)
	assert.False(t, errors.Is(err, application.ErrCompensation))

	assert.Equal(t, 5, f.stockOf(t, "A"))
	assert.Equal(t, 3, f.stockOf(t, "B"))
	assert.Equal(t, 10, f.stockOf(t, "C"))

	stored, err := f.sagas.Get(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompensated, stored.Status)
	assert.Equal(t, domsaga.StepCompensated, stored.Steps[0].State)
	assert.Equal(t, domsaga.StepPlanned, stored.Steps[1].State)
	assert.Equal(t, domsaga.StepPlanned, stored.Steps[2].State)
	assert.Equal(t, 1.0, f.tel.Met.Count(observability.MStockCompensations, observability.L("outcome", "success")))
}

func TestReserveMissingProductIsShort(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	o := f.order(t, "ORD-1", item("A", 1), item("ghost", 1))

	_, err := f.coord.Reserve(context.Background(), o)
	assert.ErrorIs(t, err, dominventory.ErrInsufficientStock)
	assert.Equal(t, 5, f.stockOf(t, "A"))
}

func TestReserveClaimsOrderOnce(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	o := f.order(t, "ORD-1", item("A", 1))
	ctx := context.Background()

	_, err := f.coord.Reserve(ctx, o)
	require.NoError(t, err)

	_, err = f.coord.Reserve(ctx, o)
	assert.ErrorIs(t, err, ErrClaimed)
	assert.Equal(t, 4, f.stockOf(t, "A"))
}

func TestReserveIntentFailureAbortsAndAllowsRetry(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5, "B": 5})
	o := f.order(t, "ORD-1", item("A", 2), item("B", 1))
	ctx := context.Background()
	f.sagaLog.failAt = 3

	// A commits, then recording B's intent fails before B is touched
	_, err := f.coord.Reserve(ctx, o)
	require.ErrorIs(t, err, application.ErrStorage)
	assert.False(t, errors.Is(err, application.ErrCompensation))
	assert.Equal(t, 5, f.stockOf(t, "A"))
	assert.Equal(t, 5, f.stockOf(t, "B"))

	stored, err := f.sagas.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusAborted, stored.Status)

	_, err = f.coord.Reserve(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, "A"))
	assert.Equal(t, 4, f.stockOf(t, "B"))
}

func TestReserveDecrementErrorLeavesIntentAndEscalates(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5, "B": 5})
	o := f.order(t, "ORD-1", item("A", 2), item("B", 1))
	ctx := context.Background()
	f.stock.lostReply["B"] = errors.New("connection reset by peer")

	_, err := f.coord.Reserve(ctx, o)
	require.ErrorIs(t, err, application.ErrCompensation)
	assert.ErrorIs(t, err, application.ErrStorage)
	var ce *CompensationError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Failed, 1)
	assert.Equal(t, "B", ce.Failed[0].ProductID)

	assert.Equal(t, 5, f.stockOf(t, "A"))
	assert.Equal(t, 4, f.stockOf(t, "B"))

	stored, err := f.sagas.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompensationFailed, stored.Status)
	assert.Equal(t, domsaga.StepCompensated, stored.Steps[0].State)
	assert.Equal(t, domsaga.StepIntent, stored.Steps[1].State)
	assert.Equal(t, 1.0, f.tel.Met.Count(observability.MCompensationFailures, observability.L("stage", "reserve")))

	// the order stays blocked instead of decrementing B a second time
	delete(f.stock.lostReply, "B")
	_, err = f.coord.Reserve(ctx, o)
	require.ErrorIs(t, err, ErrReconciliationRequired)
	assert.ErrorIs(t, err, application.ErrCompensation)
	assert.False(t, errors.Is(err, ErrClaimed))
	assert.Equal(t, 4, f.stockOf(t, "B"))
	assert.NotEmpty(t, f.tel.Log.Find("saga_needs_reconciliation"))
}

func TestRollbackSurvivesCancelledContext(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	o := f.order(t, "ORD-1", item("A", 2))
	ctx, cancel := context.WithCancel(context.Background())

	s, err := f.coord.Reserve(ctx, o)
	require.NoError(t, err)
	cancel()

	require.NoError(t, f.coord.Release(ctx, s, "caller went away"))
	assert.Equal(t, 5, f.stockOf(t, "A"))
	stored, err := f.sagas.Get(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompensated, stored.Status)
}

func TestCompensationFailureEscalates(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5, "B": 0})
	o := f.order(t, "ORD-1", item("A", 2), item("B", 1))
	f.stock.incrementErr["A"] = errors.New("timeout")

	_, err := f.coord.Reserve(context.Background(), o)

	require.ErrorIs(t, err, application.ErrCompensation)
	assert.ErrorIs(t, err, dominventory.ErrInsufficientStock)
	var ce *CompensationError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Failed, 1)
	assert.Equal(t, "A", ce.Failed[0].ProductID)

	stored, err := f.sagas.Get(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompensationFailed, stored.Status)
	assert.Equal(t, 1.0, f.tel.Met.Count(observability.MCompensationFailures, observability.L("stage", "reserve")))
	assert.NotEmpty(t, f.tel.Log.Find("compensation_failed"))
}

func TestReleaseRestoresStock(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	o := f.order(t, "ORD-1", item("A", 2))
	ctx := context.Background()

	s, err := f.coord.Reserve(ctx, o)
	require.NoError(t, err)
	require.NoError(t, f.coord.Release(ctx, s, "order changed"))

	assert.Equal(t, 5, f.stockOf(t, "A"))
	stored, err := f.sagas.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompensated, stored.Status)
}

func markPaid(t *testing.T, f *fixture, id string) {
	t.Helper()
	_, err := f.orders.UpdateStatus(context.Background(), id, domorder.StatusPending,
		domorder.StatusUpdate{Status: domorder.StatusProcessing, PaymentStatus: domorder.PaymentPaid})
	require.NoError(t, err)
}

func TestRecoverRollsForwardPaidOrders(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	o := f.order(t, "ORD-1", item("A", 2))
	ctx := context.Background()

	_, err := f.coord.Reserve(ctx, o)
	require.NoError(t, err)
	markPaid(t, f, "ORD-1")

	report, err := f.coord.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Scanned: 1, RolledForward: 1}, report)
	assert.Equal(t, 3, f.stockOf(t, "A"))

	stored, err := f.sagas.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompleted, stored.Status)
}

func TestRecoverReversesPendingOrders(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	o := f.order(t, "ORD-1", item("A", 2))
	ctx := context.Background()

	_, err := f.coord.Reserve(ctx, o)
	require.NoError(t, err)

	report, err := f.coord.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reversed)
	assert.Equal(t, 5, f.stockOf(t, "A"))

	stored, err := f.sagas.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusAborted, stored.Status)
}

func TestRecoverEscalatesUnknownSteps(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 3, "B": 3})
	ctx := context.Background()
	f.order(t, "ORD-1", item("A", 1), item("B", 1))

	// crash between the decrement of B and its commit record
	s := domsaga.New("saga-x", "ORD-1", []domsaga.Step{{ProductID: "A", Quantity: 1}, {ProductID: "B", Quantity: 1}})
	require.NoError(t, f.sagas.Begin(ctx, s))
	_, err := f.stock.ConditionalDecrement(ctx, "A", 1)
	require.NoError(t, err)
	s.SetStep(0, domsaga.StepCommitted)
	s.SetStep(1, domsaga.StepIntent)
	require.NoError(t, f.sagas.Save(ctx, s))

	report, err := f.coord.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, 3, f.stockOf(t, "A"))

	stored, err := f.sagas.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domsaga.StatusCompensationFailed, stored.Status)
	assert.Equal(t, 1.0, f.tel.Met.Count(observability.MCompensationFailures, observability.L("stage", "recover")))
}

func TestRecoverSkipsYoungSagas(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	o := f.order(t, "ORD-1", item("A", 2))
	ctx := context.Background()

	_, err := f.coord.Reserve(ctx, o)
	require.NoError(t, err)

	report, err := f.coord.Recover(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Equal(t, 3, f.stockOf(t, "A"))
}
