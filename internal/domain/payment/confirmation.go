package payment

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidConfirmation = errors.New("payment: invalid confirmation")

// Confirmation is the gateway callback payload. All fields are required.
type Confirmation struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	InternalOrderID  string
}

func (c Confirmation) Validate() error {
	var missing []string
	if strings.TrimSpace(c.GatewayOrderID) == "" {
		missing = append(missing, "gatewayOrderId")
	}
	if strings.TrimSpace(c.GatewayPaymentID) == "" {
		missing = append(missing, "gatewayPaymentId")
	}
	if strings.TrimSpace(c.Signature) == "" {
		missing = append(missing, "signature")
	}
	if strings.TrimSpace(c.InternalOrderID) == "" {
		missing = append(missing, "internalOrderId")
	}
	if len(missing) > 0 {
		return &FieldError{Fields: missing}
	}
	return nil
}

// FieldError lists the payload fields that were missing or blank.
type FieldError struct {
	Fields []string
}

func (e *FieldError) Error() string {
	return "payment: missing fields: " + strings.Join(e.Fields, ", ")
}

func (e *FieldError) Is(target error) bool { return target == ErrInvalidConfirmation }

// Verifier authenticates a confirmation. It has no side effects.
type Verifier interface {
	Verify(ctx context.Context, c Confirmation) bool
}
