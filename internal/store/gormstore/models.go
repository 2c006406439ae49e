package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Customer mirrors the customers table. Records are keyed per account.
type Customer struct {
	AccountID   string         `gorm:"primaryKey"`
	CustomerID  string         `gorm:"primaryKey"`
	Name        string         `gorm:"not null"`
	Metadata    datatypes.JSON `gorm:"not null"`
	CreatedAtMs int64          `gorm:"not null;index:idx_customers_account_created,priority:2"`
	UpdatedAtMs int64          `gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }

// DailyEntry mirrors the daily_entries table: one row per customer per date.
type DailyEntry struct {
	AccountID  string    `gorm:"primaryKey"`
	CustomerID string    `gorm:"primaryKey"`
	DateISO    string    `gorm:"primaryKey;column:date_iso"`
	Kg         float64   `gorm:"not null"`
	Rate       float64   `gorm:"not null"`
	Total      float64   `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (DailyEntry) TableName() string { return "daily_entries" }

// Bill mirrors the bills table. The check constraint keeps paid within total
// even if two devices race a payment past the guarded update.
type Bill struct {
	AccountID  string    `gorm:"primaryKey"`
	CustomerID string    `gorm:"primaryKey"`
	BillID     string    `gorm:"primaryKey"`
	FromDate   string    `gorm:"not null;column:from_date"`
	ToDate     string    `gorm:"not null;column:to_date"`
	Total      float64   `gorm:"not null"`
	Paid       float64   `gorm:"not null;check:chk_bills_paid_within_total,paid <= total"`
	Status     string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index:idx_bills_account_customer_created,priority:3"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Bill) TableName() string { return "bills" }

// SessionRecord mirrors the session_records table: one row per account naming
// the device whose token is currently authoritative.
type SessionRecord struct {
	AccountID string    `gorm:"primaryKey"`
	DeviceID  string    `gorm:"not null"`
	Token     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SessionRecord) TableName() string { return "session_records" }
