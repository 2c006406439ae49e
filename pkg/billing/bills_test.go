package billing

import (
	"context"
	"errors"
	"testing"
)

func TestUpsertBillForRangeCreatesPendingBill(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	dateRange := mustDateRange(test, "2026-03-01", "2026-03-15")

	bill, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 450))
	if err != nil {
		test.Fatalf("upsert bill: %v", err)
	}
	if bill.BillID.String() != "BILL-20260301-20260315" {
		test.Fatalf("unexpected bill id: %s", bill.BillID.String())
	}
	if bill.Paid.Float64() != 0 {
		test.Fatalf("expected paid 0, got %v", bill.Paid.Float64())
	}
	if bill.Status != StatusPending {
		test.Fatalf("expected pending, got %s", bill.Status)
	}
	if bill.CreatedUnixUTC != testClockUnixUTC || bill.UpdatedUnixUTC != testClockUnixUTC {
		test.Fatalf("unexpected timestamps: %d / %d", bill.CreatedUnixUTC, bill.UpdatedUnixUTC)
	}
}

func TestUpsertBillForRangeReplacesTotalWhilePending(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	dateRange := mustDateRange(test, "2026-03-01", "2026-03-15")

	if _, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 450)); err != nil {
		test.Fatalf("first upsert: %v", err)
	}
	bill, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 500))
	if err != nil {
		test.Fatalf("second upsert: %v", err)
	}
	if bill.Total.Float64() != 500 {
		test.Fatalf("expected total 500, got %v", bill.Total.Float64())
	}
	if len(store.bills) != 1 {
		test.Fatalf("expected one bill for the range, got %d", len(store.bills))
	}
}

func TestUpsertBillForRangeFreezesLockedBill(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	dateRange := mustDateRange(test, "2026-03-01", "2026-03-15")
	billID := NewRangeBillID(dateRange)
	locked := Bill{
		BillID:         billID,
		Range:          dateRange,
		Total:          mustAmount(test, 450),
		Paid:           mustAmount(test, 100),
		Status:         StatusLoading,
		CreatedUnixUTC: 10,
		UpdatedUnixUTC: 10,
	}
	if err := store.PutBill(context.Background(), accountID, customerID, locked); err != nil {
		test.Fatalf("seed bill: %v", err)
	}

	returned, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 9000))
	if err != nil {
		test.Fatalf("upsert locked bill: %v", err)
	}
	if returned.Total.Float64() != 450 {
		test.Fatalf("locked total must survive regeneration, got %v", returned.Total.Float64())
	}
	stored := store.mustBill(test, customerID, billID)
	if stored.Total.Float64() != 450 || stored.Paid.Float64() != 100 {
		test.Fatalf("locked financial fields were rewritten: %+v", stored)
	}
	if stored.UpdatedUnixUTC != testClockUnixUTC {
		test.Fatalf("expected refresh timestamp %d, got %d", testClockUnixUTC, stored.UpdatedUnixUTC)
	}
}

func TestAddPaymentPartialThenFull(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	dateRange := mustDateRange(test, "2026-04-01", "2026-04-30")

	created, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 300))
	if err != nil {
		test.Fatalf("upsert bill: %v", err)
	}

	partial, err := service.AddPayment(context.Background(), accountID, customerID, created.BillID, mustPaymentAmount(test, 120))
	if err != nil {
		test.Fatalf("partial payment: %v", err)
	}
	if partial.Status != StatusLoading {
		test.Fatalf("expected loading after partial payment, got %s", partial.Status)
	}
	if partial.Remaining().Float64() != 180 {
		test.Fatalf("expected remaining 180, got %v", partial.Remaining().Float64())
	}

	full, err := service.AddPayment(context.Background(), accountID, customerID, created.BillID, mustPaymentAmount(test, 180))
	if err != nil {
		test.Fatalf("final payment: %v", err)
	}
	if full.Status != StatusSuccess {
		test.Fatalf("expected success after full payment, got %s", full.Status)
	}
	if full.Remaining().Float64() != 0 {
		test.Fatalf("expected remaining 0, got %v", full.Remaining().Float64())
	}
}

func TestAddPaymentRejectsOverpayment(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	dateRange := mustDateRange(test, "2026-04-01", "2026-04-30")

	created, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 300))
	if err != nil {
		test.Fatalf("upsert bill: %v", err)
	}

	_, err = service.AddPayment(context.Background(), accountID, customerID, created.BillID, mustPaymentAmount(test, 301))
	if !errors.Is(err, ErrPaymentExceedsRemaining) {
		test.Fatalf(errorMismatchMessage, ErrPaymentExceedsRemaining, err)
	}
	stored := store.mustBill(test, customerID, created.BillID)
	if stored.Paid.Float64() != 0 {
		test.Fatalf("rejected payment must not mutate paid, got %v", stored.Paid.Float64())
	}
}

func TestAddPaymentUnknownBill(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	billID, err := NewBillID("BILL-20260101-20260131")
	if err != nil {
		test.Fatalf("bill id: %v", err)
	}

	_, err = service.AddPayment(context.Background(), accountID, customerID, billID, mustPaymentAmount(test, 10))
	if !errors.Is(err, ErrBillNotFound) {
		test.Fatalf(errorMismatchMessage, ErrBillNotFound, err)
	}
}

func TestSetPaidAmountRewindsStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	dateRange := mustDateRange(test, "2026-05-01", "2026-05-31")

	created, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 200))
	if err != nil {
		test.Fatalf("upsert bill: %v", err)
	}
	if _, err := service.AddPayment(context.Background(), accountID, customerID, created.BillID, mustPaymentAmount(test, 200)); err != nil {
		test.Fatalf("payment: %v", err)
	}

	corrected, err := service.SetPaidAmount(context.Background(), accountID, customerID, created.BillID, mustAmount(test, 0))
	if err != nil {
		test.Fatalf("set paid: %v", err)
	}
	if corrected.Status != StatusPending {
		test.Fatalf("expected pending after correction, got %s", corrected.Status)
	}
}

func TestSetPaidAmountAboveTotal(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	dateRange := mustDateRange(test, "2026-05-01", "2026-05-31")

	created, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 200))
	if err != nil {
		test.Fatalf("upsert bill: %v", err)
	}

	_, err = service.SetPaidAmount(context.Background(), accountID, customerID, created.BillID, mustAmount(test, 250))
	if !errors.Is(err, ErrPaidExceedsTotal) {
		test.Fatalf(errorMismatchMessage, ErrPaidExceedsTotal, err)
	}
}

func TestClearBillsRemovesEveryBill(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")

	ranges := []DateRange{
		mustDateRange(test, "2026-01-01", "2026-01-31"),
		mustDateRange(test, "2026-02-01", "2026-02-28"),
	}
	for _, dateRange := range ranges {
		if _, err := service.UpsertBillForRange(context.Background(), accountID, customerID, dateRange, mustAmount(test, 100)); err != nil {
			test.Fatalf("upsert bill: %v", err)
		}
	}

	if err := service.ClearBills(context.Background(), accountID, customerID); err != nil {
		test.Fatalf("clear bills: %v", err)
	}
	bills, err := service.Bills(context.Background(), accountID, customerID, 0)
	if err != nil {
		test.Fatalf("list bills: %v", err)
	}
	if len(bills) != 0 {
		test.Fatalf("expected no bills after clear, got %d", len(bills))
	}
}

func TestBillsClampsTake(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")

	testCases := []struct {
		name      string
		take      int
		wantLimit int
	}{
		{name: "zero uses default", take: 0, wantLimit: 200},
		{name: "negative uses default", take: -5, wantLimit: 200},
		{name: "in range passes through", take: 42, wantLimit: 42},
		{name: "above max clamps", take: 9000, wantLimit: 500},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			if _, err := service.Bills(context.Background(), accountID, customerID, testCase.take); err != nil {
				test.Fatalf("list bills: %v", err)
			}
			if store.lastBillLimit != testCase.wantLimit {
				test.Fatalf("expected limit %d, got %d", testCase.wantLimit, store.lastBillLimit)
			}
		})
	}
}

func TestDeleteBillUnknown(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	accountID := mustAccountID(test, "acct-1")
	customerID := mustCustomerID(test, "cust-1")
	billID, err := NewBillID("BILL-20260101-20260131")
	if err != nil {
		test.Fatalf("bill id: %v", err)
	}

	if err := service.DeleteBill(context.Background(), accountID, customerID, billID); !errors.Is(err, ErrBillNotFound) {
		test.Fatalf(errorMismatchMessage, ErrBillNotFound, err)
	}
}
