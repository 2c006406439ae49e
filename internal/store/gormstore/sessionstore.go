package gormstore

import (
	"context"
	"errors"

	"github.com/dairyworks/milkbook/internal/session"
	"github.com/dairyworks/milkbook/pkg/billing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PutRecord merge-writes the account's session record.
func (store *Store) PutRecord(ctx context.Context, record session.Record) error {
	model := SessionRecord{
		AccountID: record.AccountID,
		DeviceID:  record.DeviceID,
		Token:     record.Token,
		UpdatedAt: record.UpdatedAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodePut, err)
	}
	return nil
}

// GetRecord reads the account's session record.
func (store *Store) GetRecord(ctx context.Context, accountID string) (session.Record, error) {
	var model SessionRecord
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Record{}, wrapStoreError(errorSubjectSession, errorCodeGet, session.ErrRecordNotFound)
		}
		return session.Record{}, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	return session.Record{
		AccountID: model.AccountID,
		DeviceID:  model.DeviceID,
		Token:     model.Token,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

// DeleteRecord removes the account's session record. A missing record is not
// an error so logout cleanup stays idempotent.
func (store *Store) DeleteRecord(ctx context.Context, accountID string) error {
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&SessionRecord{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeDelete, err)
	}
	return nil
}

var _ billing.Store = (*Store)(nil)
var _ session.Store = (*Store)(nil)
