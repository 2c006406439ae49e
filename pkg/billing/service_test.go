package billing

import (
	"context"
	"errors"
	"sort"
	"testing"
)

const errorMismatchMessage = "expected %v, got %v"

const testClockUnixUTC = 100

type stubStore struct {
	customers map[string]Customer
	entries   map[string]Entry
	bills     map[string]Bill
	billOrder []string

	lastEntryLimit int
	lastBillLimit  int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		customers: make(map[string]Customer),
		entries:   make(map[string]Entry),
		bills:     make(map[string]Bill),
	}
}

func entryKey(customerID CustomerID, date ISODate) string {
	return customerID.String() + "|" + date.String()
}

func billKey(customerID CustomerID, billID BillID) string {
	return customerID.String() + "|" + billID.String()
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) UpsertCustomer(ctx context.Context, accountID AccountID, customer Customer) error {
	store.customers[customer.CustomerID.String()] = customer
	return nil
}

func (store *stubStore) GetCustomer(ctx context.Context, accountID AccountID, customerID CustomerID) (Customer, error) {
	customer, ok := store.customers[customerID.String()]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return customer, nil
}

func (store *stubStore) ListCustomers(ctx context.Context, accountID AccountID) ([]Customer, error) {
	out := make([]Customer, 0, len(store.customers))
	for _, customer := range store.customers {
		out = append(out, customer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMs > out[j].CreatedAtMs })
	return out, nil
}

func (store *stubStore) DeleteCustomer(ctx context.Context, accountID AccountID, customerID CustomerID) error {
	if _, ok := store.customers[customerID.String()]; !ok {
		return ErrCustomerNotFound
	}
	delete(store.customers, customerID.String())
	return nil
}

func (store *stubStore) PutEntry(ctx context.Context, accountID AccountID, customerID CustomerID, entry Entry) error {
	store.entries[entryKey(customerID, entry.Date)] = entry
	return nil
}

func (store *stubStore) GetEntry(ctx context.Context, accountID AccountID, customerID CustomerID, date ISODate) (Entry, error) {
	entry, ok := store.entries[entryKey(customerID, date)]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (store *stubStore) DeleteEntry(ctx context.Context, accountID AccountID, customerID CustomerID, date ISODate) error {
	key := entryKey(customerID, date)
	if _, ok := store.entries[key]; !ok {
		return ErrEntryNotFound
	}
	delete(store.entries, key)
	return nil
}

func (store *stubStore) ListLatestEntries(ctx context.Context, accountID AccountID, customerID CustomerID, limit int) ([]Entry, error) {
	store.lastEntryLimit = limit
	out := store.entriesFor(customerID)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (store *stubStore) ListEntriesInRange(ctx context.Context, accountID AccountID, customerID CustomerID, dateRange DateRange) ([]Entry, error) {
	all := store.entriesFor(customerID)
	out := make([]Entry, 0, len(all))
	for _, entry := range all {
		if dateRange.Contains(entry.Date) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (store *stubStore) entriesFor(customerID CustomerID) []Entry {
	prefix := customerID.String() + "|"
	out := []Entry{}
	for key, entry := range store.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, entry)
		}
	}
	return out
}

func (store *stubStore) PutBill(ctx context.Context, accountID AccountID, customerID CustomerID, bill Bill) error {
	key := billKey(customerID, bill.BillID)
	if _, ok := store.bills[key]; !ok {
		store.billOrder = append(store.billOrder, key)
	}
	store.bills[key] = bill
	return nil
}

func (store *stubStore) GetBill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID) (Bill, error) {
	bill, ok := store.bills[billKey(customerID, billID)]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return bill, nil
}

func (store *stubStore) IncrementPaid(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, amount PaymentAmount, status BillStatus, atUnixUTC int64) error {
	key := billKey(customerID, billID)
	bill, ok := store.bills[key]
	if !ok {
		return ErrBillNotFound
	}
	newPaid := bill.Paid.Float64() + amount.Float64()
	if newPaid > bill.Total.Float64() {
		return ErrPaymentExceedsRemaining
	}
	bill.Paid = Amount(newPaid)
	bill.Status = status
	bill.UpdatedUnixUTC = atUnixUTC
	store.bills[key] = bill
	return nil
}

func (store *stubStore) SetPaid(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, paid Amount, status BillStatus, atUnixUTC int64) error {
	key := billKey(customerID, billID)
	bill, ok := store.bills[key]
	if !ok {
		return ErrBillNotFound
	}
	bill.Paid = paid
	bill.Status = status
	bill.UpdatedUnixUTC = atUnixUTC
	store.bills[key] = bill
	return nil
}

func (store *stubStore) TouchBill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, atUnixUTC int64) error {
	key := billKey(customerID, billID)
	bill, ok := store.bills[key]
	if !ok {
		return ErrBillNotFound
	}
	bill.UpdatedUnixUTC = atUnixUTC
	store.bills[key] = bill
	return nil
}

func (store *stubStore) DeleteBill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID) error {
	key := billKey(customerID, billID)
	if _, ok := store.bills[key]; !ok {
		return ErrBillNotFound
	}
	delete(store.bills, key)
	return nil
}

func (store *stubStore) DeleteAllBills(ctx context.Context, accountID AccountID, customerID CustomerID) error {
	prefix := customerID.String() + "|"
	for key := range store.bills {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(store.bills, key)
		}
	}
	return nil
}

func (store *stubStore) ListBills(ctx context.Context, accountID AccountID, customerID CustomerID, limit int) ([]Bill, error) {
	store.lastBillLimit = limit
	out := []Bill{}
	for index := len(store.billOrder) - 1; index >= 0; index-- {
		bill, ok := store.bills[store.billOrder[index]]
		if !ok {
			continue
		}
		out = append(out, bill)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (store *stubStore) mustBill(test *testing.T, customerID CustomerID, billID BillID) Bill {
	test.Helper()
	bill, ok := store.bills[billKey(customerID, billID)]
	if !ok {
		test.Fatalf("bill %s not found", billID.String())
	}
	return bill
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return testClockUnixUTC }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustCustomerID(test *testing.T, raw string) CustomerID {
	test.Helper()
	value, err := NewCustomerID(raw)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	return value
}

func mustISODate(test *testing.T, raw string) ISODate {
	test.Helper()
	value, err := NewISODate(raw)
	if err != nil {
		test.Fatalf("iso date: %v", err)
	}
	return value
}

func mustDateRange(test *testing.T, fromRaw string, toRaw string) DateRange {
	test.Helper()
	value, err := NewDateRange(mustISODate(test, fromRaw), mustISODate(test, toRaw))
	if err != nil {
		test.Fatalf("date range: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw float64) Amount {
	test.Helper()
	value, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustPaymentAmount(test *testing.T, raw float64) PaymentAmount {
	test.Helper()
	value, err := NewPaymentAmount(raw)
	if err != nil {
		test.Fatalf("payment amount: %v", err)
	}
	return value
}

func mustKilograms(test *testing.T, raw float64) Kilograms {
	test.Helper()
	value, err := NewKilograms(raw)
	if err != nil {
		test.Fatalf("kilograms: %v", err)
	}
	return value
}

func mustRate(test *testing.T, raw float64) Rate {
	test.Helper()
	value, err := NewRate(raw)
	if err != nil {
		test.Fatalf("rate: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	_, err := NewService(nil, func() int64 { return 0 })
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
	store := newStubStore(test)
	_, err = NewService(store, nil)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
}
