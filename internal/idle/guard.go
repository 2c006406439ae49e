// Package idle signs the device out after a period with no activity. The
// last-activity timestamp lives in device-local storage, so every surface of
// the device shares one idle clock: activity anywhere resets it for all.
package idle

import (
	"context"
	"sync"
	"time"

	"github.com/dairyworks/milkbook/internal/localstate"
	"go.uber.org/zap"
)

const (
	// DefaultWindow is the production idle timeout.
	DefaultWindow = 5 * time.Minute

	// timerGrace pads the recheck so a timestamp written just before the
	// deadline still counts.
	timerGrace = 200 * time.Millisecond
)

// ActivityStore is the slice of device-local state the guard needs.
type ActivityStore interface {
	LastActiveAt(ctx context.Context) (time.Time, error)
	SetLastActiveAt(ctx context.Context, at time.Time) error
	Watch(fn func(key string, value string)) func()
}

// LogoutFunc performs a sign-out. The guard prefers the rich logout routine
// (which also clears the remote session record) and falls back to the bare
// one when the rich routine fails or is absent.
type LogoutFunc func(ctx context.Context) error

// Guard is the single-timer idle detector.
type Guard struct {
	store      ActivityStore
	window     time.Duration
	logout     LogoutFunc
	signOut    LogoutFunc
	logger     *zap.Logger
	nowFn      func() time.Time
	resets     chan struct{}
	logoutOnce sync.Once
}

// NewGuard wires a Guard. A non-positive window falls back to DefaultWindow.
func NewGuard(store ActivityStore, window time.Duration, logout LogoutFunc, signOut LogoutFunc, logger *zap.Logger, now func() time.Time) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{
		store:   store,
		window:  window,
		logout:  logout,
		signOut: signOut,
		logger:  logger,
		nowFn:   now,
		resets:  make(chan struct{}, 1),
	}
}

// Activity records an activity signal (pointer, key, scroll, touch,
// visibility regain) for every surface of this device.
func (guard *Guard) Activity(ctx context.Context) error {
	return guard.store.SetLastActiveAt(ctx, guard.nowFn().UTC())
}

// Run watches the shared idle clock until ctx is cancelled or the guard has
// signed the device out. Returns nil after a logout.
func (guard *Guard) Run(ctx context.Context) error {
	lastActive, err := guard.store.LastActiveAt(ctx)
	if err != nil {
		return err
	}
	if lastActive.IsZero() {
		if err := guard.store.SetLastActiveAt(ctx, guard.nowFn().UTC()); err != nil {
			return err
		}
	}
	unwatch := guard.store.Watch(func(key string, _ string) {
		if key != localstate.KeyLastActiveAt {
			return
		}
		select {
		case guard.resets <- struct{}{}:
		default:
		}
	})
	defer unwatch()

	timer := time.NewTimer(guard.window + timerGrace)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-guard.resets:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(guard.window + timerGrace)
		case <-timer.C:
			lastActive, err := guard.store.LastActiveAt(ctx)
			if err != nil {
				return err
			}
			idleFor := guard.nowFn().Sub(lastActive)
			if idleFor >= guard.window {
				guard.triggerLogout(ctx)
				return nil
			}
			// Another surface was active; wait out the remainder.
			timer.Reset(guard.window - idleFor + timerGrace)
		}
	}
}

func (guard *Guard) triggerLogout(ctx context.Context) {
	guard.logoutOnce.Do(func() {
		guard.logger.Info("signing out after inactivity", zap.Duration("window", guard.window))
		if guard.logout != nil {
			err := guard.logout(ctx)
			if err == nil {
				return
			}
			guard.logger.Warn("rich logout failed, falling back to bare sign-out", zap.Error(err))
		}
		if guard.signOut != nil {
			if err := guard.signOut(ctx); err != nil {
				guard.logger.Warn("bare sign-out failed", zap.Error(err))
			}
		}
	})
}
