package billing

import "fmt"

// BillStatus defines the derived payment state of a bill.
type BillStatus string

const (
	StatusPending BillStatus = "pending"
	StatusLoading BillStatus = "loading"
	StatusSuccess BillStatus = "success"
)

// String returns the wire form of the status.
func (status BillStatus) String() string {
	return string(status)
}

// ParseBillStatus validates a stored status value.
func ParseBillStatus(raw string) (BillStatus, error) {
	switch BillStatus(raw) {
	case StatusPending, StatusLoading, StatusSuccess:
		return BillStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBillStatus, raw)
}

// StatusForAmounts derives a bill status from its total and paid amounts.
// Nothing invoiced or nothing paid is pending; a partial payment is loading;
// full payment (or more) is success.
func StatusForAmounts(total Amount, paid Amount) BillStatus {
	if total.Float64() <= 0 {
		return StatusPending
	}
	if paid.Float64() <= 0 {
		return StatusPending
	}
	if paid.Float64() < total.Float64() {
		return StatusLoading
	}
	return StatusSuccess
}

// DateLockedByBills reports whether date is covered by any bill's inclusive
// range. The policy is unconditional: coverage alone locks the date, no matter
// the bill's payment status.
func DateLockedByBills(bills []Bill, date ISODate) bool {
	for _, bill := range bills {
		if bill.Range.Contains(date) {
			return true
		}
	}
	return false
}

// LockedDates enumerates the dates inside [from, to] that are covered by at
// least one bill, in ascending order.
func LockedDates(bills []Bill, dateRange DateRange) []ISODate {
	locked := []ISODate{}
	for date := dateRange.From(); !date.After(dateRange.To()); date = date.Next() {
		if DateLockedByBills(bills, date) {
			locked = append(locked, date)
		}
	}
	return locked
}
