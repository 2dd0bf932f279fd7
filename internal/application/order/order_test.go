package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/obstest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) statusEvents() []domain.StatusChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.StatusChangedEvent
	for _, e := range p.events {
		if evt, ok := e.(domain.StatusChangedEvent); ok {
			out = append(out, evt)
		}
	}
	return out
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() string { return f.id }

func seedStock(t *testing.T, stock map[string]int) *memory.InventoryRepository {
	t.Helper()
	repo := memory.NewInventoryRepository()
	for id, qty := range stock {
		require.NoError(t, repo.Put(context.Background(), &dominventory.Item{ProductID: id, Stock: qty}))
	}
	return repo
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		GatewayOrderID: "order_9A",
		Customer:       domain.Customer{Name: "Ada", Email: "ada@example.com"},
		Items: []domain.LineItem{
			{ProductID: "A", Name: "Mug", UnitPrice: 1200, Quantity: 2},
			{ProductID: "B", Name: "Yarn", UnitPrice: 300, Quantity: 1},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	repo := memory.NewOrderRepository()
	uc := NewCreateOrderUseCase(repo, seedStock(t, map[string]int{"A": 5, "B": 1}), fixedIDs{"ORD-1"}, 5000, obstest.New())

	res, err := uc.Execute(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", res.OrderID)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.Equal(t, domain.PaymentPending, res.PaymentStatus)
	assert.Equal(t, int64(2*1200+300+5000), res.Total)

	stored, err := repo.FindByReferences(context.Background(), "ORD-1", "order_9A")
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
}

func TestCreateOrderValidation(t *testing.T) {
	uc := NewCreateOrderUseCase(memory.NewOrderRepository(), nil, fixedIDs{"ORD-1"}, 0, nil)

	cases := map[string]func(*CreateOrderInput){
		"missing gateway ref": func(in *CreateOrderInput) { in.GatewayOrderID = "" },
		"missing email":       func(in *CreateOrderInput) { in.Customer.Email = "" },
		"no items":            func(in *CreateOrderInput) { in.Items = nil },
		"zero quantity":       func(in *CreateOrderInput) { in.Items[0].Quantity = 0 },
		"negative price":      func(in *CreateOrderInput) { in.Items[1].UnitPrice = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := uc.Execute(context.Background(), in)
			assert.ErrorIs(t, err, application.ErrValidation)
		})
	}
}

func TestCreateOrderAdvisoryStockCheck(t *testing.T) {
	uc := NewCreateOrderUseCase(memory.NewOrderRepository(), seedStock(t, map[string]int{"A": 1, "B": 1}), fixedIDs{"ORD-1"}, 0, nil)

	_, err := uc.Execute(context.Background(), validInput())
	var short *dominventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "Mug", short.ProductName)
}

func TestCreateOrderRejectsReusedGatewayReference(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	_, err := NewCreateOrderUseCase(repo, nil, fixedIDs{"ORD-1"}, 0, nil).Execute(ctx, validInput())
	require.NoError(t, err)

	_, err = NewCreateOrderUseCase(repo, nil, fixedIDs{"ORD-2"}, 0, nil).Execute(ctx, validInput())
	assert.ErrorIs(t, err, ErrConflict)
}

func newLifecycle(t *testing.T) (*LifecycleManager, *memory.OrderRepository, *recordingPublisher) {
	t.Helper()
	repo := memory.NewOrderRepository()
	o, err := domain.New("ORD-1", "order_9A", domain.Customer{Name: "Ada", Email: "ada@example.com"}, domain.ShippingAddress{},
		[]domain.LineItem{{ProductID: "A", Quantity: 1, UnitPrice: 100}}, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), o))
	pub := &recordingPublisher{}
	return NewLifecycleManager(repo, pub, obstest.New()), repo, pub
}

func TestLifecycleFullPath(t *testing.T) {
	m, repo, pub := newLifecycle(t)
	ctx := context.Background()

	o, err := m.MarkPaid(ctx, "ORD-1", "pay_1", "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, o.Status)

	_, err = m.Ship(ctx, "ORD-1", "")
	assert.ErrorIs(t, err, ErrTrackingRequired)

	_, err = m.Ship(ctx, "ORD-1", "TRK-1")
	require.NoError(t, err)
	_, err = m.Deliver(ctx, "ORD-1")
	require.NoError(t, err)

	_, err = m.Cancel(ctx, "ORD-1", "too late")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	stored, err := repo.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, stored.Status)
	assert.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, "TRK-1", stored.TrackingNumber)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)

	events := pub.statusEvents()
	require.Len(t, events, 3)
	assert.Equal(t, domain.StatusPending, events[0].PreviousStatus)
	assert.Equal(t, domain.StatusProcessing, events[0].Status)
	assert.Equal(t, "ada@example.com", events[0].CustomerEmail)
	assert.Equal(t, "TRK-1", events[1].TrackingNumber)
	assert.Equal(t, domain.StatusDelivered, events[2].Status)
}

func TestMarkReservationFailed(t *testing.T) {
	m, _, pub := newLifecycle(t)

	o, err := m.MarkReservationFailed(context.Background(), "ORD-1", "pay_1", "sig", "Mug is out of stock")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, domain.PaymentFailed, o.PaymentStatus)
	assert.Equal(t, "Mug is out of stock", pub.statusEvents()[0].Reason)
}

func TestManualCancelLeavesPaymentStatus(t *testing.T) {
	m, _, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := m.MarkPaid(ctx, "ORD-1", "pay_1", "sig")
	require.NoError(t, err)
	o, err := m.Cancel(ctx, "ORD-1", "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
}

func TestPublishFailureKeepsTransition(t *testing.T) {
	m, repo, pub := newLifecycle(t)
	pub.err = errors.New("queue full")
	ctx := context.Background()

	_, err := m.MarkPaid(ctx, "ORD-1", "pay_1", "sig")
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
}

func TestTransitionUnknownOrder(t *testing.T) {
	m, _, _ := newLifecycle(t)
	_, err := m.Deliver(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

type staleRepo struct {
	domain.Repository
}

func (staleRepo) UpdateStatus(context.Context, string, domain.Status, domain.StatusUpdate) (int64, error) {
	return 0, nil
}

func TestConcurrentChangeIsReportedStale(t *testing.T) {
	_, repo, pub := newLifecycle(t)
	m := NewLifecycleManager(staleRepo{Repository: repo}, pub, nil)

	_, err := m.MarkPaid(context.Background(), "ORD-1", "pay_1", "sig")
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.Empty(t, pub.statusEvents())
}
