// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the join
// registry.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Functions:
//
//   - FindOrCreateJoin(ctx, db, id) -> error
//     Inserts an unwelcomed join record unless one exists. Never overwrites.
//
//   - MarkWelcomed(ctx, db, id, replyID) -> error
//     Upserts the join record with welcomed=true.
//
//   - ListUnwelcomed(ctx, db, limit) -> []domain.JoinMessage, error
//     Newest unwelcomed joins first, by numeric message id.
//
//   - DeleteJoin(ctx, db, id) -> error
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/welcome-tracker/internal/domain"
)

// numericIDDesc orders canonical decimal ids by magnitude, largest first.
// A longer canonical decimal is always the larger number.
const numericIDDesc = "LENGTH(message_id) DESC, message_id DESC"

// FindOrCreateJoin inserts JoinMessage(messageID, welcomed=false) when no
// record exists. An existing record, welcomed or not, is left untouched.
func FindOrCreateJoin(ctx context.Context, db *gorm.DB, messageID string) error {
	now := time.Now().UTC()
	j := &domain.JoinMessage{
		MessageID: messageID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(j).Error
}

// MarkWelcomed creates JoinMessage(messageID, welcomed=true) or flips an
// existing record to welcomed. replyID is stored as the welcoming reply.
func MarkWelcomed(ctx context.Context, db *gorm.DB, messageID, replyID string) error {
	now := time.Now().UTC()
	j := &domain.JoinMessage{
		MessageID:        messageID,
		Welcomed:         true,
		WelcomeMessageID: &replyID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"welcomed":           true,
				"welcome_message_id": replyID,
				"updated_at":         now,
			}),
		}).
		Create(j).Error
}

// ListUnwelcomed returns up to limit join records with welcomed=false,
// ordered by message id descending (most recent join first). A limit <= 0
// returns all of them.
func ListUnwelcomed(ctx context.Context, db *gorm.DB, limit int) ([]domain.JoinMessage, error) {
	var out []domain.JoinMessage
	q := db.WithContext(ctx).
		Where("welcomed = ?", false).
		Order(numericIDDesc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// DeleteJoin removes the join record for messageID. Deleting a missing row
// is not an error.
func DeleteJoin(ctx context.Context, db *gorm.DB, messageID string) error {
	return db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Delete(&domain.JoinMessage{}).Error
}
