package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/dairyworks/milkbook/pkg/billing"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintPaidWithinTotal = "chk_bills_paid_within_total"
	defaultMetadataJSON       = "{}"
	pgCheckViolationCode      = "23514"
	sqliteConstraintCode      = 19
	errorOperationStore       = "store"
	errorSubjectCustomer      = "customer"
	errorSubjectEntry         = "entry"
	errorSubjectBill          = "bill"
	errorSubjectSession       = "session"
	errorCodeDelete           = "delete"
	errorCodeGet              = "get"
	errorCodeIncrementPaid    = "increment_paid"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodePut              = "put"
	errorCodeSetPaid          = "set_paid"
	errorCodeTouch            = "touch"
	errorCodeUpsert           = "upsert"
)

// Store implements billing.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema for every table the store owns.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&Customer{}, &DailyEntry{}, &Bill{}, &SessionRecord{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore billing.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) UpsertCustomer(ctx context.Context, accountID billing.AccountID, customer billing.Customer) error {
	model := Customer{
		AccountID:   accountID.String(),
		CustomerID:  customer.CustomerID.String(),
		Name:        customer.Name,
		Metadata:    metadataJSON(customer.Metadata.String()),
		CreatedAtMs: customer.CreatedAtMs,
		UpdatedAtMs: customer.UpdatedAtMs,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "customer_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectCustomer, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetCustomer(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID) (billing.Customer, error) {
	var model Customer
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ?", accountID.String(), customerID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billing.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeGet, billing.ErrCustomerNotFound)
		}
		return billing.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeGet, err)
	}
	customer, err := mapCustomer(model)
	if err != nil {
		return billing.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeInvalid, err)
	}
	return customer, nil
}

func (store *Store) ListCustomers(ctx context.Context, accountID billing.AccountID) ([]billing.Customer, error) {
	var rows []Customer
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at_ms DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCustomer, errorCodeList, err)
	}
	customers := make([]billing.Customer, 0, len(rows))
	for _, row := range rows {
		customer, err := mapCustomer(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCustomer, errorCodeInvalid, err)
		}
		customers = append(customers, customer)
	}
	return customers, nil
}

func (store *Store) DeleteCustomer(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID) error {
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ?", accountID.String(), customerID.String()).
		Delete(&Customer{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectCustomer, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) PutEntry(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, entry billing.Entry) error {
	model := DailyEntry{
		AccountID:  accountID.String(),
		CustomerID: customerID.String(),
		DateISO:    entry.Date.String(),
		Kg:         entry.Kg.Float64(),
		Rate:       entry.Rate.Float64(),
		Total:      entry.Total.Float64(),
		UpdatedAt:  time.Unix(entry.UpdatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "customer_id"}, {Name: "date_iso"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetEntry(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, date billing.ISODate) (billing.Entry, error) {
	var model DailyEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ? AND date_iso = ?", accountID.String(), customerID.String(), date.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billing.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, billing.ErrEntryNotFound)
		}
		return billing.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapEntry(model)
	if err != nil {
		return billing.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) DeleteEntry(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, date billing.ISODate) error {
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ? AND date_iso = ?", accountID.String(), customerID.String(), date.String()).
		Delete(&DailyEntry{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) ListLatestEntries(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, limit int) ([]billing.Entry, error) {
	var rows []DailyEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ?", accountID.String(), customerID.String()).
		Order("date_iso DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

func (store *Store) ListEntriesInRange(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, dateRange billing.DateRange) ([]billing.Entry, error) {
	var rows []DailyEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ?", accountID.String(), customerID.String()).
		Where("date_iso >= ? AND date_iso <= ?", dateRange.From().String(), dateRange.To().String()).
		Order("date_iso ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

func (store *Store) PutBill(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, bill billing.Bill) error {
	model := Bill{
		AccountID:  accountID.String(),
		CustomerID: customerID.String(),
		BillID:     bill.BillID.String(),
		FromDate:   bill.Range.From().String(),
		ToDate:     bill.Range.To().String(),
		Total:      bill.Total.Float64(),
		Paid:       bill.Paid.Float64(),
		Status:     bill.Status.String(),
		CreatedAt:  time.Unix(bill.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:  time.Unix(bill.UpdatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "customer_id"}, {Name: "bill_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"from_date", "to_date", "total", "paid", "status", "updated_at",
			}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectBill, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetBill(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, billID billing.BillID) (billing.Bill, error) {
	var model Bill
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ? AND bill_id = ?", accountID.String(), customerID.String(), billID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billing.Bill{}, wrapStoreError(errorSubjectBill, errorCodeGet, billing.ErrBillNotFound)
		}
		return billing.Bill{}, wrapStoreError(errorSubjectBill, errorCodeGet, err)
	}
	bill, err := mapBill(model)
	if err != nil {
		return billing.Bill{}, wrapStoreError(errorSubjectBill, errorCodeInvalid, err)
	}
	return bill, nil
}

// IncrementPaid applies a guarded single-statement increment: the WHERE clause
// rejects any increment that would push paid past total, so concurrent
// payments from different devices cannot lose updates.
func (store *Store) IncrementPaid(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, billID billing.BillID, amount billing.PaymentAmount, status billing.BillStatus, atUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Bill{}).
		Where("account_id = ? AND customer_id = ? AND bill_id = ?", accountID.String(), customerID.String(), billID.String()).
		Where("paid + ? <= total", amount.Float64()).
		Updates(map[string]interface{}{
			"paid":       gorm.Expr("paid + ?", amount.Float64()),
			"status":     status.String(),
			"updated_at": time.Unix(atUnixUTC, 0).UTC(),
		})
	if isPaidConstraintViolation(result.Error) {
		return wrapStoreError(errorSubjectBill, errorCodeIncrementPaid, billing.ErrPaymentExceedsRemaining)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectBill, errorCodeIncrementPaid, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetBill(ctx, accountID, customerID, billID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectBill, errorCodeIncrementPaid, billing.ErrPaymentExceedsRemaining)
	}
	return nil
}

func (store *Store) SetPaid(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, billID billing.BillID, paid billing.Amount, status billing.BillStatus, atUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Bill{}).
		Where("account_id = ? AND customer_id = ? AND bill_id = ?", accountID.String(), customerID.String(), billID.String()).
		Where("total >= ?", paid.Float64()).
		Updates(map[string]interface{}{
			"paid":       paid.Float64(),
			"status":     status.String(),
			"updated_at": time.Unix(atUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBill, errorCodeSetPaid, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetBill(ctx, accountID, customerID, billID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectBill, errorCodeSetPaid, billing.ErrPaidExceedsTotal)
	}
	return nil
}

func (store *Store) TouchBill(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, billID billing.BillID, atUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Bill{}).
		Where("account_id = ? AND customer_id = ? AND bill_id = ?", accountID.String(), customerID.String(), billID.String()).
		Update("updated_at", time.Unix(atUnixUTC, 0).UTC())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBill, errorCodeTouch, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBill, errorCodeTouch, billing.ErrBillNotFound)
	}
	return nil
}

func (store *Store) DeleteBill(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, billID billing.BillID) error {
	result := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ? AND bill_id = ?", accountID.String(), customerID.String(), billID.String()).
		Delete(&Bill{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBill, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBill, errorCodeDelete, billing.ErrBillNotFound)
	}
	return nil
}

func (store *Store) DeleteAllBills(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID) error {
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ?", accountID.String(), customerID.String()).
		Delete(&Bill{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectBill, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) ListBills(ctx context.Context, accountID billing.AccountID, customerID billing.CustomerID, limit int) ([]billing.Bill, error) {
	var rows []Bill
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND customer_id = ?", accountID.String(), customerID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBill, errorCodeList, err)
	}
	bills := make([]billing.Bill, 0, len(rows))
	for _, row := range rows {
		bill, err := mapBill(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBill, errorCodeInvalid, err)
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return billing.WrapError(errorOperationStore, subject, code, err)
}

func mapCustomer(row Customer) (billing.Customer, error) {
	customerID, err := billing.NewCustomerID(row.CustomerID)
	if err != nil {
		return billing.Customer{}, err
	}
	metadata, err := billing.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return billing.Customer{}, err
	}
	return billing.Customer{
		CustomerID:  customerID,
		Name:        row.Name,
		Metadata:    metadata,
		CreatedAtMs: row.CreatedAtMs,
		UpdatedAtMs: row.UpdatedAtMs,
	}, nil
}

func mapEntry(row DailyEntry) (billing.Entry, error) {
	date, err := billing.NewISODate(row.DateISO)
	if err != nil {
		return billing.Entry{}, err
	}
	kg, err := billing.NewKilograms(row.Kg)
	if err != nil {
		return billing.Entry{}, err
	}
	rate, err := billing.NewRate(row.Rate)
	if err != nil {
		return billing.Entry{}, err
	}
	total, err := billing.NewAmount(row.Total)
	if err != nil {
		return billing.Entry{}, err
	}
	return billing.Entry{
		Date:           date,
		Kg:             kg,
		Rate:           rate,
		Total:          total,
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func mapEntries(rows []DailyEntry) ([]billing.Entry, error) {
	entries := make([]billing.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapBill(row Bill) (billing.Bill, error) {
	billID, err := billing.NewBillID(row.BillID)
	if err != nil {
		return billing.Bill{}, err
	}
	from, err := billing.NewISODate(row.FromDate)
	if err != nil {
		return billing.Bill{}, err
	}
	to, err := billing.NewISODate(row.ToDate)
	if err != nil {
		return billing.Bill{}, err
	}
	dateRange, err := billing.NewDateRange(from, to)
	if err != nil {
		return billing.Bill{}, err
	}
	total, err := billing.NewAmount(row.Total)
	if err != nil {
		return billing.Bill{}, err
	}
	paid, err := billing.NewAmount(row.Paid)
	if err != nil {
		return billing.Bill{}, err
	}
	status, err := billing.ParseBillStatus(row.Status)
	if err != nil {
		return billing.Bill{}, err
	}
	return billing.Bill{
		BillID:         billID,
		Range:          dateRange,
		Total:          total,
		Paid:           paid,
		Status:         status,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func metadataJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isPaidConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode && pgErr.ConstraintName == constraintPaidWithinTotal
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
