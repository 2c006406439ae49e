package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Heartbeat periodically rewrites the account's session record with this
// device's id and token while the session is authenticated and the surface is
// foregrounded. The writes are advisory liveness only; they do not decide
// which device is authoritative.
type Heartbeat struct {
	accountID   string
	deviceState DeviceState
	writer      *Writer
	interval    time.Duration
	logger      *zap.Logger
	nowFn       func() time.Time
	paused      atomic.Bool
}

// NewHeartbeat wires a Heartbeat. A non-positive interval falls back to
// DefaultHeartbeatInterval.
func NewHeartbeat(accountID string, deviceState DeviceState, writer *Writer, interval time.Duration, logger *zap.Logger, now func() time.Time) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Heartbeat{
		accountID:   accountID,
		deviceState: deviceState,
		writer:      writer,
		interval:    interval,
		logger:      logger,
		nowFn:       now,
	}
}

// Pause suspends beats while the surface is backgrounded.
func (heartbeat *Heartbeat) Pause() {
	heartbeat.paused.Store(true)
}

// Resume re-enables beats.
func (heartbeat *Heartbeat) Resume() {
	heartbeat.paused.Store(false)
}

// Run beats immediately and then on every tick until ctx is cancelled, which
// is how the task is stopped deterministically on sign-out.
func (heartbeat *Heartbeat) Run(ctx context.Context) error {
	heartbeat.beat(ctx)
	ticker := time.NewTicker(heartbeat.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if heartbeat.paused.Load() {
				continue
			}
			heartbeat.beat(ctx)
		}
	}
}

func (heartbeat *Heartbeat) beat(ctx context.Context) {
	deviceID, err := heartbeat.deviceState.DeviceID(ctx)
	if err != nil || deviceID == "" {
		return
	}
	token, err := heartbeat.deviceState.SessionToken(ctx)
	if err != nil || token == "" {
		return
	}
	record := Record{
		AccountID: heartbeat.accountID,
		DeviceID:  deviceID,
		Token:     token,
		UpdatedAt: heartbeat.nowFn().UTC(),
	}
	if err := heartbeat.writer.Write(ctx, record); err != nil {
		heartbeat.logger.Warn("session heartbeat write failed", zap.Error(err))
	}
}
