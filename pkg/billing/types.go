package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

const isoDateLayout = "2006-01-02"

// AccountID identifies the authenticated principal owning all billing data.
type AccountID struct {
	value string
}

// CustomerID identifies a customer within an account.
type CustomerID struct {
	value string
}

// BillID identifies a bill within a customer.
type BillID struct {
	value string
}

// ISODate is a calendar date in YYYY-MM-DD form. Ordering is lexicographic,
// which for this layout matches chronological ordering.
type ISODate struct {
	value string
}

// DateRange is an inclusive [From, To] pair of ISO dates with From <= To.
type DateRange struct {
	from ISODate
	to   ISODate
}

// Kilograms is a daily production weight.
type Kilograms float64

// Rate is a per-kilogram price.
type Rate float64

// Amount is a non-negative monetary value.
type Amount float64

// PaymentAmount is a strictly positive monetary value.
type PaymentAmount float64

// MetadataJSON stores arbitrary customer metadata.
type MetadataJSON struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CustomerID{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	return CustomerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CustomerID) String() string {
	return id.value
}

// NewBillID validates and normalizes a bill id.
func NewBillID(raw string) (BillID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BillID{}, fmt.Errorf("%w: empty value", ErrInvalidBillID)
	}
	return BillID{value: trimmed}, nil
}

// NewRangeBillID derives the deterministic bill id for a date range, so
// regenerating a report for the same range updates the existing bill.
func NewRangeBillID(dateRange DateRange) BillID {
	from := strings.ReplaceAll(dateRange.From().String(), "-", "")
	to := strings.ReplaceAll(dateRange.To().String(), "-", "")
	return BillID{value: "BILL-" + from + "-" + to}
}

// String returns the normalized identifier.
func (id BillID) String() string {
	return id.value
}

// NewISODate validates a YYYY-MM-DD date string.
func NewISODate(raw string) (ISODate, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := time.Parse(isoDateLayout, trimmed)
	if err != nil {
		return ISODate{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDate, raw)
	}
	return ISODate{value: parsed.Format(isoDateLayout)}, nil
}

// String returns the date in YYYY-MM-DD form.
func (date ISODate) String() string {
	return date.value
}

// Before reports whether date sorts strictly before other.
func (date ISODate) Before(other ISODate) bool {
	return date.value < other.value
}

// After reports whether date sorts strictly after other.
func (date ISODate) After(other ISODate) bool {
	return date.value > other.value
}

// Next returns the following calendar day.
func (date ISODate) Next() ISODate {
	parsed, err := time.Parse(isoDateLayout, date.value)
	if err != nil {
		return date
	}
	return ISODate{value: parsed.AddDate(0, 0, 1).Format(isoDateLayout)}
}

// IsZero reports whether the date is unset.
func (date ISODate) IsZero() bool {
	return date.value == ""
}

// NewDateRange validates an inclusive date range.
func NewDateRange(from ISODate, to ISODate) (DateRange, error) {
	if from.IsZero() || to.IsZero() {
		return DateRange{}, fmt.Errorf("%w: empty bound", ErrInvalidDateRange)
	}
	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidDateRange, from, to)
	}
	return DateRange{from: from, to: to}, nil
}

// From returns the inclusive lower bound.
func (dateRange DateRange) From() ISODate {
	return dateRange.from
}

// To returns the inclusive upper bound.
func (dateRange DateRange) To() ISODate {
	return dateRange.to
}

// Contains reports whether date falls inside the inclusive range.
func (dateRange DateRange) Contains(date ISODate) bool {
	return !date.Before(dateRange.from) && !date.After(dateRange.to)
}

// NewKilograms validates a production weight.
func NewKilograms(raw float64) (Kilograms, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw < 0 {
		return 0, fmt.Errorf("%w: must be a finite non-negative number", ErrInvalidKilograms)
	}
	return Kilograms(raw), nil
}

// Float64 returns the raw weight.
func (kg Kilograms) Float64() float64 {
	return float64(kg)
}

// NewRate validates a per-kilogram rate.
func NewRate(raw float64) (Rate, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw < 0 {
		return 0, fmt.Errorf("%w: must be a finite non-negative number", ErrInvalidRate)
	}
	return Rate(raw), nil
}

// Float64 returns the raw rate.
func (rate Rate) Float64() float64 {
	return float64(rate)
}

// NewAmount validates a non-negative monetary value.
func NewAmount(raw float64) (Amount, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw < 0 {
		return 0, fmt.Errorf("%w: must be a finite non-negative number", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Float64 returns the raw amount.
func (amount Amount) Float64() float64 {
	return float64(amount)
}

// NewPaymentAmount validates a strictly positive payment.
func NewPaymentAmount(raw float64) (PaymentAmount, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return 0, fmt.Errorf("%w: must be a finite positive number", ErrInvalidPaymentAmount)
	}
	return PaymentAmount(raw), nil
}

// Float64 returns the raw payment amount.
func (amount PaymentAmount) Float64() float64 {
	return float64(amount)
}

// NewMetadataJSON validates a metadata blob (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// Customer is a stored customer record.
type Customer struct {
	CustomerID  CustomerID
	Name        string
	Metadata    MetadataJSON
	CreatedAtMs int64
	UpdatedAtMs int64
}

// Entry is one day's production record. Total is computed at write time and
// is authoritative at read time.
type Entry struct {
	Date           ISODate
	Kg             Kilograms
	Rate           Rate
	Total          Amount
	UpdatedUnixUTC int64
}

// Bill is an invoice over an inclusive date range with a derived payment status.
type Bill struct {
	BillID         BillID
	Range          DateRange
	Total          Amount
	Paid           Amount
	Status         BillStatus
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Remaining returns the unpaid balance, clamped at zero.
func (bill Bill) Remaining() Amount {
	remaining := bill.Total.Float64() - bill.Paid.Float64()
	if remaining < 0 {
		return 0
	}
	return Amount(remaining)
}

// Locked reports whether money has moved on the bill, freezing its total.
func (bill Bill) Locked() bool {
	return bill.Status == StatusLoading || bill.Status == StatusSuccess
}

// Store is the persistence contract used by Service. Implementations back each
// account's customers, entries and bills; keys are hierarchical
// (account, customer, entity id).
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	UpsertCustomer(ctx context.Context, accountID AccountID, customer Customer) error
	GetCustomer(ctx context.Context, accountID AccountID, customerID CustomerID) (Customer, error)
	ListCustomers(ctx context.Context, accountID AccountID) ([]Customer, error)
	DeleteCustomer(ctx context.Context, accountID AccountID, customerID CustomerID) error

	PutEntry(ctx context.Context, accountID AccountID, customerID CustomerID, entry Entry) error
	GetEntry(ctx context.Context, accountID AccountID, customerID CustomerID, date ISODate) (Entry, error)
	DeleteEntry(ctx context.Context, accountID AccountID, customerID CustomerID, date ISODate) error
	ListLatestEntries(ctx context.Context, accountID AccountID, customerID CustomerID, limit int) ([]Entry, error)
	ListEntriesInRange(ctx context.Context, accountID AccountID, customerID CustomerID, dateRange DateRange) ([]Entry, error)

	PutBill(ctx context.Context, accountID AccountID, customerID CustomerID, bill Bill) error
	GetBill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID) (Bill, error)
	IncrementPaid(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, amount PaymentAmount, status BillStatus, atUnixUTC int64) error
	SetPaid(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, paid Amount, status BillStatus, atUnixUTC int64) error
	TouchBill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID, atUnixUTC int64) error
	DeleteBill(ctx context.Context, accountID AccountID, customerID CustomerID, billID BillID) error
	DeleteAllBills(ctx context.Context, accountID AccountID, customerID CustomerID) error
	ListBills(ctx context.Context, accountID AccountID, customerID CustomerID, limit int) ([]Bill, error)
}
