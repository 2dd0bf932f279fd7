package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domainInventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domainOrder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domainPayment "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	maxBodyBytes         = 1 << 20
)

type (
	OrderCreator    = application.UseCase[apporder.CreateOrderInput, *apporder.CreateOrderResult]
	PaymentVerifier = application.UseCase[domainPayment.Confirmation, *apppayment.Result]
)

type OrderLifecycle interface {
	Get(ctx context.Context, orderID string) (*domainOrder.Order, error)
	Ship(ctx context.Context, orderID, trackingNumber string) (*domainOrder.Order, error)
	Deliver(ctx context.Context, orderID string) (*domainOrder.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (*domainOrder.Order, error)
}

type StockWriter interface {
	Put(ctx context.Context, item *domainInventory.Item) error
}

// Services are the use cases the router dispatches to. Metrics, when set, is
// served on GET /metrics.
type Services struct {
	CreateOrder   OrderCreator
	VerifyPayment PaymentVerifier
	Orders        OrderLifecycle
	Stock         StockWriter
	Metrics       http.Handler
}

type Handler struct {
	svc         Services
	adminSecret []byte
	log         observability.Logger
	tel         observability.Observability
}

func NewHandler(svc Services, adminSecret []byte, logger observability.Logger, tel observability.Observability) *Handler {
	tel = observability.Or(tel)
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = tel.Logger()
	}
	return &Handler{
		svc:         svc,
		adminSecret: adminSecret,
		log:         baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:         tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	admin := AdminAuth(h.adminSecret, h.log)

	// Trace → ObservabilityMiddleware (request logger + metrics) → Access log → [auth] → Handler
	h.handle(r, http.MethodPost, "/orders", h.handleCreateOrder)
	h.handle(r, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.handle(r, http.MethodPost, "/payments/verify", h.handleVerifyPayment)
	h.handle(r, http.MethodPost, "/admin/orders/{id}/ship", h.handleShip, admin)
	h.handle(r, http.MethodPost, "/admin/orders/{id}/deliver", h.handleDeliver, admin)
	h.handle(r, http.MethodPost, "/admin/orders/{id}/cancel", h.handleCancel, admin)
	h.handle(r, http.MethodPut, "/admin/inventory/{productId}", h.handlePutStock, admin)
	r.Get("/health", h.handleHealth)
	if h.svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.svc.Metrics)
	}

	return r
}

func (h *Handler) handle(r chi.Router, method, route string, handler http.HandlerFunc, inner ...func(http.Handler) http.Handler) {
	var next http.Handler = handler
	for i := len(inner) - 1; i >= 0; i-- {
		next = inner[i](next)
	}
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
			h.tel,
		)(h.withAccessLog(next)),
	)

	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
		// stable template keeps metric labels low-cardinality
		ctx := contextWithRoute(req.Context(), method+" "+route)
		wrapped.ServeHTTP(w, req.WithContext(ctx))
	}))
}

type customerDTO struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type addressDTO struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type lineItemDTO struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	GatewayOrderID  string        `json:"gatewayOrderId"`
	Customer        customerDTO   `json:"customer"`
	ShippingAddress addressDTO    `json:"shippingAddress"`
	Items           []lineItemDTO `json:"items"`
}

type createOrderResponse struct {
	OrderID       string                    `json:"orderId"`
	Status        domainOrder.Status        `json:"status"`
	PaymentStatus domainOrder.PaymentStatus `json:"paymentStatus"`
	Total         int64                     `json:"total"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]domainOrder.LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domainOrder.LineItem(item)
	}
	result, err := h.svc.CreateOrder.Execute(r.Context(), apporder.CreateOrderInput{
		GatewayOrderID:  req.GatewayOrderID,
		Customer:        domainOrder.Customer(req.Customer),
		ShippingAddress: domainOrder.ShippingAddress(req.ShippingAddress),
		Items:           items,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:       result.OrderID,
		Status:        result.Status,
		PaymentStatus: result.PaymentStatus,
		Total:         result.Total,
	})
}

type orderResponse struct {
	ID              string                    `json:"id"`
	GatewayOrderID  string                    `json:"gatewayOrderId"`
	Customer        customerDTO               `json:"customer"`
	ShippingAddress addressDTO                `json:"shippingAddress"`
	Items           []lineItemDTO             `json:"items"`
	ShippingFee     int64                     `json:"shippingFee"`
	Total           int64                     `json:"total"`
	Status          domainOrder.Status        `json:"status"`
	PaymentStatus   domainOrder.PaymentStatus `json:"paymentStatus"`
	TrackingNumber  string                    `json:"trackingNumber,omitempty"`
	FailureReason   string                    `json:"failureReason,omitempty"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
}

func newOrderResponse(o *domainOrder.Order) orderResponse {
	items := make([]lineItemDTO, len(o.Items))
	for i, item := range o.Items {
		items[i] = lineItemDTO(item)
	}
	return orderResponse{
		ID:              o.ID,
		GatewayOrderID:  o.GatewayOrderID,
		Customer:        customerDTO(o.Customer),
		ShippingAddress: addressDTO(o.ShippingAddress),
		Items:           items,
		ShippingFee:     o.ShippingFee,
		Total:           o.Total,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		TrackingNumber:  o.TrackingNumber,
		FailureReason:   o.FailureReason,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
	InternalOrderID  string `json:"internalOrderId"`
}

type verifyPaymentResponse struct {
	Success         bool                      `json:"success"`
	Message         string                    `json:"message"`
	OrderID         string                    `json:"orderId"`
	Outcome         apppayment.Outcome        `json:"outcome"`
	OrderStatus     domainOrder.Status        `json:"orderStatus"`
	PaymentStatus   domainOrder.PaymentStatus `json:"paymentStatus"`
	FailedProductID string                    `json:"failedProductId,omitempty"`
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.svc.VerifyPayment.Execute(r.Context(), domainPayment.Confirmation(req))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == apppayment.OutcomeReservationFailed {
		status = http.StatusConflict
	}
	writeJSON(w, status, verifyPaymentResponse{
		Success:         result.Outcome != apppayment.OutcomeReservationFailed,
		Message:         result.Message,
		OrderID:         result.OrderID,
		Outcome:         result.Outcome,
		OrderStatus:     result.OrderStatus,
		PaymentStatus:   result.PaymentStatus,
		FailedProductID: result.FailedProductID,
	})
}

type shipRequest struct {
	TrackingNumber string `json:"trackingNumber"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleShip(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.svc.Orders.Ship(r.Context(), chi.URLParam(r, "id"), req.TrackingNumber)
	h.writeTransition(w, o, err)
}

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.Deliver(r.Context(), chi.URLParam(r, "id"))
	h.writeTransition(w, o, err)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.svc.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	h.writeTransition(w, o, err)
}

func (h *Handler) writeTransition(w http.ResponseWriter, o *domainOrder.Order, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type stockRequest struct {
	Stock *int `json:"stock"`
}

type stockResponse struct {
	ProductID string `json:"productId"`
	Stock     int    `json:"stock"`
}

func (h *Handler) handlePutStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Stock == nil {
		writeMessage(w, http.StatusBadRequest, "stock is required")
		return
	}

	item, err := domainInventory.NewItem(chi.URLParam(r, "productId"), *req.Stock)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.svc.Stock.Put(r.Context(), item); err != nil {
		writeDomainError(w, err)
		return
	}
	logctx.FromOr(r.Context(), h.log).Info("stock_set",
		observability.F("product_id", item.ProductID),
		observability.F("stock", item.Stock),
	)
	writeJSON(w, http.StatusOK, stockResponse{ProductID: item.ProductID, Stock: item.Stock})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("minishop.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeDomainError maps the use case error taxonomy to status codes. Storage
// and compensation details stay in the logs.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrCompensation):
		writeMessage(w, http.StatusInternalServerError, "stock could not be restored; the order was escalated for review")
	case errors.Is(err, application.ErrStorage),
		errors.Is(err, context.DeadlineExceeded):
		writeMessage(w, http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	case errors.Is(err, apppayment.ErrAuthentication):
		writeMessage(w, http.StatusUnauthorized, "payment verification failed: invalid signature")
	case errors.Is(err, apppayment.ErrOrderNotFound):
		writeMessage(w, http.StatusNotFound, "order not found for this payment; please contact support")
	case errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, domainInventory.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainInventory.ErrInsufficientStock),
		errors.Is(err, domainOrder.ErrInvalidStateTransition),
		errors.Is(err, apporder.ErrStaleStatus),
		errors.Is(err, domainOrder.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, application.ErrValidation),
		errors.Is(err, domainPayment.ErrInvalidConfirmation),
		errors.Is(err, domainOrder.ErrTrackingRequired),
		errors.Is(err, domainInventory.ErrInvalidQuantity),
		errors.Is(err, domainOrder.ErrInvalidQuantity),
		errors.Is(err, domainOrder.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
