// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries over the join
// registry and the processed ledger, used by the stats endpoint and CLI.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/welcome-tracker/internal/domain"
)

// Stats summarises the reconciliation tables.
type Stats struct {
	Joins      int64  `json:"joins"`
	Welcomed   int64  `json:"welcomed"`
	Unwelcomed int64  `json:"unwelcomed"`
	Processed  int64  `json:"processed"`
	NewestJoin string `json:"newest_join,omitempty"`
}

// ReconcileStats counts join records by welcomed status, ledger rows, and
// returns the numerically largest join id. On an empty store all counts are
// zero and NewestJoin is "".
func ReconcileStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	var s Stats
	if err := db.WithContext(ctx).Model(&domain.JoinMessage{}).Count(&s.Joins).Error; err != nil {
		return Stats{}, err
	}
	if err := db.WithContext(ctx).Model(&domain.JoinMessage{}).
		Where("welcomed = ?", true).
		Count(&s.Welcomed).Error; err != nil {
		return Stats{}, err
	}
	s.Unwelcomed = s.Joins - s.Welcomed

	if err := db.WithContext(ctx).Model(&domain.ProcessedMessage{}).
		Count(&s.Processed).Error; err != nil {
		return Stats{}, err
	}
	if s.Joins == 0 {
		return s, nil
	}

	var row struct {
		MessageID string
	}
	if err := db.WithContext(ctx).Model(&domain.JoinMessage{}).
		Select("message_id").
		Order(numericIDDesc).
		Limit(1).
		Scan(&row).Error; err != nil {
		return Stats{}, err
	}
	s.NewestJoin = row.MessageID
	return s, nil
}
