package application

import (
	"context"
	"errors"
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

var (
	// ErrStorage marks a failed lookup or write against a store. Callers are
	// expected to retry the whole operation.
	ErrStorage = errors.New("storage failure")
	// ErrCompensation means stock could not be given back and needs an operator.
	ErrCompensation = errors.New("compensation failure")
	ErrValidation   = errors.New("validation")
)

const SpanPrefix = "UC."
