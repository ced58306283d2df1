// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the processed
// ledger.
//
// A ledger row means "this message has been fully accounted for". Rows are
// created once and are only ever removed together with the join record of
// the same id (see services.Reporter).
//
// Error semantics:
//   - CreateProcessed returns ErrDuplicate when the id is already present,
//     which is how a concurrent scan that got there first shows up.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/welcome-tracker/internal/domain"
)

// IsProcessed reports whether messageID is already in the ledger.
func IsProcessed(ctx context.Context, db *gorm.DB, messageID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ProcessedMessage{}).
		Where("message_id = ?", messageID).
		Count(&n).Error
	return n > 0, err
}

// CreateProcessed inserts a ledger row for messageID. It returns ErrDuplicate
// on unique violation.
func CreateProcessed(ctx context.Context, db *gorm.DB, messageID string) error {
	rec := &domain.ProcessedMessage{
		MessageID: messageID,
		CreatedAt: time.Now().UTC(),
	}
	return asDuplicate(db.WithContext(ctx).Create(rec).Error)
}

// DeleteProcessed removes the ledger row for messageID. Deleting a missing
// row is not an error.
func DeleteProcessed(ctx context.Context, db *gorm.DB, messageID string) error {
	return db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Delete(&domain.ProcessedMessage{}).Error
}
