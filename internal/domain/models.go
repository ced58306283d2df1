// Package domain defines the persistence models for join and ledger records
// together with the decoded chat message types the reconciler works on. The
// models are mapped with GORM and form the core data layer of the welcome
// tracker.
package domain

import "time"

// JoinMessage records one member-joined notification in the welcome channel
// and whether it has been welcomed.
//
// Fields:
//   - MessageID: decimal snowflake of the join notification, stored as text
//     so no precision is lost. Primary key.
//   - Welcomed: true once a qualifying welcome reply has been seen. Never
//     reset to false.
//   - WelcomeMessageID: the reply that welcomed this join, when known.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type JoinMessage struct {
	MessageID        string    `json:"message_id"                   gorm:"type:varchar(32);primaryKey"`
	Welcomed         bool      `json:"welcomed"                     gorm:"not null;default:false;index:idx_join_welcomed"`
	WelcomeMessageID *string   `json:"welcome_message_id,omitempty" gorm:"type:varchar(32)"`
	CreatedAt        time.Time `json:"created_at"                   gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at"                   gorm:"autoUpdateTime"`
}

// TableName returns the database table name for JoinMessage.
func (JoinMessage) TableName() string { return "join_messages" }

// ProcessedMessage marks a channel message as fully accounted for. Once a
// row exists for an id the classifier never evaluates that message again.
type ProcessedMessage struct {
	MessageID string    `json:"message_id" gorm:"type:varchar(32);primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName returns the database table name for ProcessedMessage.
func (ProcessedMessage) TableName() string { return "processed_messages" }
