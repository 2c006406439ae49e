// Package localstate is the device-local persistent key-value store: the
// analog of origin-scoped browser storage. It holds the device id (generated
// once and kept indefinitely), the session token for the current login, and
// the last-activity timestamp shared by every surface of this device.
// Watchers receive change notifications so concurrently open surfaces share
// one idle clock.
package localstate

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	KeyDeviceID     = "deviceId"
	KeySessionToken = "sessionToken"
	KeyLastActiveAt = "lastActiveAt"
)

type localValue struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (localValue) TableName() string { return "local_values" }

// State is a sqlite-backed key-value store with in-process change
// notification.
type State struct {
	db       *gorm.DB
	mu       sync.Mutex
	watchers map[uint64]func(key string, value string)
	nextID   uint64
}

// Open opens (creating if needed) the local state database at path. Use
// ":memory:" for tests.
func Open(path string) (*State, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&localValue{}); err != nil {
		return nil, err
	}
	return &State{db: db, watchers: make(map[uint64]func(key string, value string))}, nil
}

// Close releases the underlying database handle.
func (state *State) Close() error {
	sqlDB, err := state.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Watch registers a change callback and returns its cancel function.
// Callbacks fire synchronously on every Set from this process.
func (state *State) Watch(fn func(key string, value string)) func() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.nextID++
	id := state.nextID
	state.watchers[id] = fn
	return func() {
		state.mu.Lock()
		defer state.mu.Unlock()
		delete(state.watchers, id)
	}
}

// Get reads one value; missing keys return the empty string.
func (state *State) Get(ctx context.Context, key string) (string, error) {
	var row localValue
	err := state.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

// Set writes one value and notifies watchers.
func (state *State) Set(ctx context.Context, key string, value string) error {
	row := localValue{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := state.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return err
	}
	state.notify(key, value)
	return nil
}

// Delete removes one value and notifies watchers.
func (state *State) Delete(ctx context.Context, key string) error {
	err := state.db.WithContext(ctx).Where("key = ?", key).Delete(&localValue{}).Error
	if err != nil {
		return err
	}
	state.notify(key, "")
	return nil
}

func (state *State) notify(key string, value string) {
	state.mu.Lock()
	callbacks := make([]func(key string, value string), 0, len(state.watchers))
	for _, watcher := range state.watchers {
		callbacks = append(callbacks, watcher)
	}
	state.mu.Unlock()
	for _, callback := range callbacks {
		callback(key, value)
	}
}

// DeviceID returns the persisted device id, generating it on first use.
func (state *State) DeviceID(ctx context.Context) (string, error) {
	existing, err := state.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}
	generated := uuid.NewString()
	if err := state.Set(ctx, KeyDeviceID, generated); err != nil {
		return "", err
	}
	return generated, nil
}

// SessionToken returns the cached session token, empty when none is cached.
func (state *State) SessionToken(ctx context.Context) (string, error) {
	return state.Get(ctx, KeySessionToken)
}

// SetSessionToken caches the session token for the current login.
func (state *State) SetSessionToken(ctx context.Context, token string) error {
	return state.Set(ctx, KeySessionToken, token)
}

// ClearSessionToken drops the cached session token.
func (state *State) ClearSessionToken(ctx context.Context) error {
	return state.Delete(ctx, KeySessionToken)
}

// LastActiveAt returns the shared last-activity timestamp; the zero time when
// no activity has been recorded.
func (state *State) LastActiveAt(ctx context.Context) (time.Time, error) {
	raw, err := state.Get(ctx, KeyLastActiveAt)
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis).UTC(), nil
}

// SetLastActiveAt records activity at the given time for every surface of
// this device.
func (state *State) SetLastActiveAt(ctx context.Context, at time.Time) error {
	return state.Set(ctx, KeyLastActiveAt, strconv.FormatInt(at.UnixMilli(), 10))
}
