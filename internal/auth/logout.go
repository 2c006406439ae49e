package auth

import (
	"context"

	"github.com/dairyworks/milkbook/internal/session"
	"go.uber.org/zap"
)

// LogoutCoordinator is the rich logout routine: it clears the account's
// remote session record and the locally cached token, then signs out.
// Remote cleanup is best effort — its failures are logged and swallowed so
// logout always completes locally.
type LogoutCoordinator struct {
	authenticator Authenticator
	sessions      session.Store
	deviceState   session.DeviceState
	logger        *zap.Logger
}

// NewLogoutCoordinator wires a LogoutCoordinator.
func NewLogoutCoordinator(authenticator Authenticator, sessions session.Store, deviceState session.DeviceState, logger *zap.Logger) *LogoutCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogoutCoordinator{
		authenticator: authenticator,
		sessions:      sessions,
		deviceState:   deviceState,
		logger:        logger,
	}
}

// Logout tears the session down for the given account.
func (coordinator *LogoutCoordinator) Logout(ctx context.Context, accountID string) error {
	if err := coordinator.sessions.DeleteRecord(ctx, accountID); err != nil {
		coordinator.logger.Warn("session record cleanup failed",
			zap.String("account_id", accountID), zap.Error(err))
	}
	if err := coordinator.deviceState.ClearSessionToken(ctx); err != nil {
		coordinator.logger.Warn("local session token cleanup failed", zap.Error(err))
	}
	return coordinator.authenticator.SignOut(ctx)
}
