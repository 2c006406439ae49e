package billing

import "context"

// UpsertEntry stores one production entry per customer per date,
// last-write-wins. Total is computed here, at write time.
func (service *Service) UpsertEntry(ctx context.Context, accountID AccountID, customerID CustomerID, date ISODate, kg Kilograms, rate Rate) (Entry, error) {
	total, err := NewAmount(kg.Float64() * rate.Float64())
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		Date:           date,
		Kg:             kg,
		Rate:           rate,
		Total:          total,
		UpdatedUnixUTC: service.nowFn(),
	}
	operationError := service.store.PutEntry(ctx, accountID, customerID, entry)
	service.logOperation(ctx, OperationLog{
		Operation:  operationUpsertEntry,
		AccountID:  accountID,
		CustomerID: customerID,
		Date:       date,
		Amount:     total.Float64(),
		Error:      operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

// Entry reads one entry by date.
func (service *Service) Entry(ctx context.Context, accountID AccountID, customerID CustomerID, date ISODate) (Entry, error) {
	return service.store.GetEntry(ctx, accountID, customerID, date)
}

// DeleteEntry removes one entry by date.
func (service *Service) DeleteEntry(ctx context.Context, accountID AccountID, customerID CustomerID, date ISODate) error {
	operationError := service.store.DeleteEntry(ctx, accountID, customerID, date)
	service.logOperation(ctx, OperationLog{
		Operation:  operationDeleteEntry,
		AccountID:  accountID,
		CustomerID: customerID,
		Date:       date,
		Error:      operationError,
	})
	return operationError
}

// LatestEntries returns the newest entries first, capped to [1, 200].
func (service *Service) LatestEntries(ctx context.Context, accountID AccountID, customerID CustomerID, take int) ([]Entry, error) {
	limit := clampLimit(take, defaultEntryListLimit, maxEntryListLimit)
	return service.store.ListLatestEntries(ctx, accountID, customerID, limit)
}

// EntriesInRange returns the entries inside the inclusive range in ascending
// date order.
func (service *Service) EntriesInRange(ctx context.Context, accountID AccountID, customerID CustomerID, dateRange DateRange) ([]Entry, error) {
	return service.store.ListEntriesInRange(ctx, accountID, customerID, dateRange)
}

// EntriesInRangeMap returns the entries inside the inclusive range keyed by
// their ISO date.
func (service *Service) EntriesInRangeMap(ctx context.Context, accountID AccountID, customerID CustomerID, dateRange DateRange) (map[string]Entry, error) {
	entries, err := service.store.ListEntriesInRange(ctx, accountID, customerID, dateRange)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		byDate[entry.Date.String()] = entry
	}
	return byDate, nil
}
