package order

import "strings"

// OrderState implements the state pattern for order lifecycle transitions.
// Each method mutates o on success and returns the next state.
type OrderState interface {
	Status() Status
	OnPaymentConfirmed(o *Order, paymentID, signature string) (OrderState, error)
	OnReservationFailed(o *Order, paymentID, signature, reason string) (OrderState, error)
	OnShipped(o *Order, trackingNumber string) (OrderState, error)
	OnDelivered(o *Order) (OrderState, error)
	OnCancelled(o *Order, reason string) (OrderState, error)
}

// StateOf returns the state object for status. Unknown statuses behave as terminal.
func StateOf(status Status) OrderState {
	switch status {
	case StatusPending:
		return pendingState{}
	case StatusProcessing:
		return processingState{}
	case StatusShipped:
		return shippedState{}
	default:
		return terminalState{status: status}
	}
}

// rejectAll is embedded by states that accept only a subset of events.
type rejectAll struct{}

func (rejectAll) OnPaymentConfirmed(*Order, string, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnReservationFailed(*Order, string, string, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnShipped(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnDelivered(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnCancelled(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type pendingState struct{ rejectAll }

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnPaymentConfirmed(o *Order, paymentID, signature string) (OrderState, error) {
	o.Status = StatusProcessing
	o.PaymentStatus = PaymentPaid
	o.GatewayPaymentID = paymentID
	o.GatewaySignature = signature
	o.FailureReason = ""
	o.touch()
	return processingState{}, nil
}

func (pendingState) OnReservationFailed(o *Order, paymentID, signature, reason string) (OrderState, error) {
	o.Status = StatusCancelled
	o.PaymentStatus = PaymentFailed
	o.GatewayPaymentID = paymentID
	o.GatewaySignature = signature
	o.FailureReason = reason
	o.touch()
	return terminalState{status: StatusCancelled}, nil
}

func (pendingState) OnCancelled(o *Order, reason string) (OrderState, error) {
	return cancel(o, reason)
}

type processingState struct{ rejectAll }

func (processingState) Status() Status { return StatusProcessing }

func (processingState) OnShipped(o *Order, trackingNumber string) (OrderState, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, ErrTrackingRequired
	}
	o.Status = StatusShipped
	o.TrackingNumber = trackingNumber
	o.touch()
	return shippedState{}, nil
}

func (processingState) OnCancelled(o *Order, reason string) (OrderState, error) {
	return cancel(o, reason)
}

type shippedState struct{ rejectAll }

func (shippedState) Status() Status { return StatusShipped }

func (shippedState) OnDelivered(o *Order) (OrderState, error) {
	o.Status = StatusDelivered
	o.touch()
	return terminalState{status: StatusDelivered}, nil
}

type terminalState struct {
	rejectAll
	status Status
}

func (s terminalState) Status() Status { return s.status }

// cancel leaves payment status alone; refunds happen outside this service.
func cancel(o *Order, reason string) (OrderState, error) {
	o.Status = StatusCancelled
	if reason != "" {
		o.FailureReason = reason
	}
	o.touch()
	return terminalState{status: StatusCancelled}, nil
}
