// Package session enforces single-active-device login per account. Each
// account has one session record naming the device whose token is currently
// authoritative; every device watches that record and self-evicts when the
// token no longer matches its own. Last store-writer wins: this is
// best-effort device affinity, not a strict lock.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultHeartbeatInterval is how often the owning device refreshes its
// session record.
const DefaultHeartbeatInterval = 5 * time.Second

// ErrRecordNotFound is returned when an account has no session record.
var ErrRecordNotFound = errors.New("session record not found")

// Record is the per-account session document.
type Record struct {
	AccountID string    `json:"account_id"`
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists session records.
type Store interface {
	PutRecord(ctx context.Context, record Record) error
	GetRecord(ctx context.Context, accountID string) (Record, error)
	DeleteRecord(ctx context.Context, accountID string) error
}

// Notifier delivers live session-record changes to watching devices.
type Notifier interface {
	Publish(ctx context.Context, record Record) error
	Subscribe(ctx context.Context, accountID string) (Subscription, error)
}

// Subscription is a cancellable stream of session-record changes.
type Subscription interface {
	Records() <-chan Record
	Close() error
}

// DeviceState is the device-local persistent state consulted by the
// arbitrator and heartbeat: a device id generated once, and the session token
// minted for the current login.
type DeviceState interface {
	DeviceID(ctx context.Context) (string, error)
	SessionToken(ctx context.Context) (string, error)
	SetSessionToken(ctx context.Context, token string) error
	ClearSessionToken(ctx context.Context) error
}

// Writer couples a record write with its change notification so watchers on
// other devices observe it.
type Writer struct {
	store    Store
	notifier Notifier
}

// NewWriter wires a Writer.
func NewWriter(store Store, notifier Notifier) *Writer {
	return &Writer{store: store, notifier: notifier}
}

// Write persists the record and publishes the change.
func (writer *Writer) Write(ctx context.Context, record Record) error {
	if err := writer.store.PutRecord(ctx, record); err != nil {
		return err
	}
	return writer.notifier.Publish(ctx, record)
}

func unixToUTC(unix int64) time.Time {
	return time.Unix(unix, 0).UTC()
}
