package billing

import (
	"errors"
	"testing"
)

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError("op", "subject", "code", nil) != nil {
		test.Fatalf("wrapping nil must return nil")
	}
}

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("add_payment", "bill", "exceeds_remaining", ErrPaymentExceedsRemaining)

	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "add_payment" || operationError.Subject() != "bill" || operationError.Code() != "exceeds_remaining" {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
	if !errors.Is(wrapped, ErrPaymentExceedsRemaining) {
		test.Fatalf("wrapped error must unwrap to the sentinel")
	}
	want := "add_payment.bill.exceeds_remaining: payment exceeds remaining balance"
	if wrapped.Error() != want {
		test.Fatalf("expected %q, got %q", want, wrapped.Error())
	}
}

func TestIsNotFoundCoversEntitySentinels(test *testing.T) {
	test.Parallel()
	for _, sentinel := range []error{ErrCustomerNotFound, ErrEntryNotFound, ErrBillNotFound} {
		if !isNotFound(sentinel) {
			test.Fatalf("expected %v to be a not-found error", sentinel)
		}
	}
	if isNotFound(ErrPaidExceedsTotal) {
		test.Fatalf("conflict sentinel must not read as not-found")
	}
}
