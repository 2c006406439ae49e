package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EvictFunc is invoked exactly once when another device has taken over the
// account. The embedding surface shows its notice and signs out.
type EvictFunc func(reason string)

// Arbitrator watches the account's session record and evicts this device
// when the observed token stops matching the locally cached one. A device
// with no cached token adopts the first observed token unconditionally, so
// whichever device wrote the record last becomes authoritative for everyone
// watching afterwards.
type Arbitrator struct {
	accountID   string
	deviceState DeviceState
	notifier    Notifier
	onEvict     EvictFunc
	logger      *zap.Logger
	evictOnce   sync.Once
}

// NewArbitrator wires an Arbitrator.
func NewArbitrator(accountID string, deviceState DeviceState, notifier Notifier, onEvict EvictFunc, logger *zap.Logger) *Arbitrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbitrator{
		accountID:   accountID,
		deviceState: deviceState,
		notifier:    notifier,
		onEvict:     onEvict,
		logger:      logger,
	}
}

// Claim makes this device the authoritative one: it mints a fresh token,
// caches it locally, and writes the session record so every other device
// observes the change and self-evicts.
func (arbitrator *Arbitrator) Claim(ctx context.Context, issuer *TokenIssuer, writer *Writer, now func() int64) error {
	deviceID, err := arbitrator.deviceState.DeviceID(ctx)
	if err != nil {
		return err
	}
	token, err := issuer.Mint(arbitrator.accountID, deviceID)
	if err != nil {
		return err
	}
	if err := arbitrator.deviceState.SetSessionToken(ctx, token); err != nil {
		return err
	}
	record := Record{
		AccountID: arbitrator.accountID,
		DeviceID:  deviceID,
		Token:     token,
	}
	if now != nil {
		record.UpdatedAt = unixToUTC(now())
	}
	return writer.Write(ctx, record)
}

// Run subscribes to session-record changes and processes them until ctx is
// cancelled.
func (arbitrator *Arbitrator) Run(ctx context.Context) error {
	subscription, err := arbitrator.notifier.Subscribe(ctx, arbitrator.accountID)
	if err != nil {
		return err
	}
	defer func() { _ = subscription.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, open := <-subscription.Records():
			if !open {
				return nil
			}
			arbitrator.observe(ctx, record)
		}
	}
}

func (arbitrator *Arbitrator) observe(ctx context.Context, record Record) {
	if record.Token == "" {
		return
	}
	localToken, err := arbitrator.deviceState.SessionToken(ctx)
	if err != nil {
		arbitrator.logger.Warn("reading local session token failed", zap.Error(err))
		return
	}
	if localToken == "" {
		// First observation after login: adopt the cloud token.
		if err := arbitrator.deviceState.SetSessionToken(ctx, record.Token); err != nil {
			arbitrator.logger.Warn("adopting session token failed", zap.Error(err))
		}
		return
	}
	if localToken == record.Token {
		return
	}
	arbitrator.evictOnce.Do(func() {
		arbitrator.logger.Info("session taken over by another device",
			zap.String("account_id", arbitrator.accountID),
			zap.String("device_id", record.DeviceID))
		if arbitrator.onEvict != nil {
			arbitrator.onEvict("this account was opened on another device")
		}
	})
}
