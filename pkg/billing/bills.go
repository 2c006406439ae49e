package billing

import "context"

// UpsertBillForRange creates or refreshes the bill identified by the
// deterministic range id. A new bill starts with paid=0. While the bill is
// pending its total may be replaced; once money has moved (loading or
// success) the financial fields are frozen and only the refresh timestamp is
// written.
func (service *Service) UpsertBillForRange(ctx context.Context, accountID AccountID, customerID CustomerID, dateRange DateRange, total Amount) (Bill, error) {
	billID := NewRangeBillID(dateRange)
	nowUnixUTC := service.nowFn()
	var stored Bill
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, err := transactionStore.GetBill(ctx, accountID, customerID, billID)
		switch {
		case isNotFound(err):
			stored = Bill{
				BillID:         billID,
				Range:          dateRange,
				Total:          total,
				Paid:           0,
				Status:         StatusForAmounts(total, 0),
				CreatedUnixUTC: nowUnixUTC,
				UpdatedUnixUTC: nowUnixUTC,
			}
			return transactionStore.PutBill(ctx, accountID, customerID, stored)
		case err != nil:
			return err
		}
		if existing.Locked() {
			stored = existing
			return transactionStore.TouchBill(ctx, accountID, customerID, billID, nowUnixUTC)
		}
		existing.Total = total
		existing.Status = StatusForAmounts(total, existing.Paid)
		existing.UpdatedUnixUTC = nowUnixUTC
		stored = existing
		return transactionStore.PutBill(ctx, accountID, customerID, existing)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUpsertBillForRange,
		AccountID:  accountID,
		CustomerID: customerID,
		BillID:     billID,
		Amount:     total.Float64(),
		Error:      operationError,
	})
	if operationError != nil {
		return Bill{}, operationError
	}
	return stored, nil
}

// AddPayment increments the bill's paid amount and recomputes its status. The
// increment is a single guarded server-side update so concurrent payments
// from different devices cannot lose updates or overshoot the total.
func (service *Service) AddPayment(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, amount PaymentAmount) (Bill, error) {
	nowUnixUTC := service.nowFn()
	var updated Bill
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		bill, err := transactionStore.GetBill(ctx, accountID, customerID, billID)
		if err != nil {
			return err
		}
		if amount.Float64() > bill.Remaining().Float64() {
			return ErrPaymentExceedsRemaining
		}
		newPaid, err := NewAmount(bill.Paid.Float64() + amount.Float64())
		if err != nil {
			return err
		}
		newStatus := StatusForAmounts(bill.Total, newPaid)
		if err := transactionStore.IncrementPaid(ctx, accountID, customerID, billID, amount, newStatus, nowUnixUTC); err != nil {
			return err
		}
		bill.Paid = newPaid
		bill.Status = newStatus
		bill.UpdatedUnixUTC = nowUnixUTC
		updated = bill
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationAddPayment,
		AccountID:  accountID,
		CustomerID: customerID,
		BillID:     billID,
		Amount:     amount.Float64(),
		Error:      operationError,
	})
	if operationError != nil {
		return Bill{}, operationError
	}
	return updated, nil
}

// SetPaidAmount is an administrative correction that overwrites paid
// directly. It may move the status backward, which is intentional.
func (service *Service) SetPaidAmount(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, newPaid Amount) (Bill, error) {
	nowUnixUTC := service.nowFn()
	var updated Bill
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		bill, err := transactionStore.GetBill(ctx, accountID, customerID, billID)
		if err != nil {
			return err
		}
		if newPaid.Float64() > bill.Total.Float64() {
			return ErrPaidExceedsTotal
		}
		newStatus := StatusForAmounts(bill.Total, newPaid)
		if err := transactionStore.SetPaid(ctx, accountID, customerID, billID, newPaid, newStatus, nowUnixUTC); err != nil {
			return err
		}
		bill.Paid = newPaid
		bill.Status = newStatus
		bill.UpdatedUnixUTC = nowUnixUTC
		updated = bill
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationSetPaidAmount,
		AccountID:  accountID,
		CustomerID: customerID,
		BillID:     billID,
		Amount:     newPaid.Float64(),
		Error:      operationError,
	})
	if operationError != nil {
		return Bill{}, operationError
	}
	return updated, nil
}

// Bill reads one bill.
func (service *Service) Bill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID) (Bill, error) {
	return service.store.GetBill(ctx, accountID, customerID, billID)
}

// DeleteBill removes one bill.
func (service *Service) DeleteBill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID) error {
	operationError := service.store.DeleteBill(ctx, accountID, customerID, billID)
	service.logOperation(ctx, OperationLog{
		Operation:  operationDeleteBill,
		AccountID:  accountID,
		CustomerID: customerID,
		BillID:     billID,
		Error:      operationError,
	})
	return operationError
}

// ClearBills removes every bill for the customer in one all-or-nothing batch.
func (service *Service) ClearBills(ctx context.Context, accountID AccountID, customerID CustomerID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.DeleteAllBills(ctx, accountID, customerID)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationClearBills,
		AccountID:  accountID,
		CustomerID: customerID,
		Error:      operationError,
	})
	return operationError
}

// Bills lists the customer's bills newest first, capped to [1, 500].
func (service *Service) Bills(ctx context.Context, accountID AccountID, customerID CustomerID, take int) ([]Bill, error) {
	limit := clampLimit(take, defaultBillListLimit, maxBillListLimit)
	return service.store.ListBills(ctx, accountID, customerID, limit)
}
