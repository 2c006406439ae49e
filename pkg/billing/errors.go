package billing

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the billing service.
var (
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidCustomerID       = errors.New("invalid customer id")
	ErrInvalidBillID           = errors.New("invalid bill id")
	ErrInvalidDate             = errors.New("invalid date")
	ErrInvalidDateRange        = errors.New("invalid date range")
	ErrInvalidKilograms        = errors.New("invalid kilograms")
	ErrInvalidRate             = errors.New("invalid rate")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidPaymentAmount    = errors.New("invalid payment amount")
	ErrInvalidBillStatus       = errors.New("invalid bill status")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrCustomerNotFound        = errors.New("customer not found")
	ErrEntryNotFound           = errors.New("entry not found")
	ErrBillNotFound            = errors.New("bill not found")
	ErrPaymentExceedsRemaining = errors.New("payment exceeds remaining balance")
	ErrPaidExceedsTotal        = errors.New("paid exceeds total")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) || errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrBillNotFound)
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
