package services

import (
	"context"

	"github.com/tbourn/welcome-tracker/internal/domain"
)

// Provider is the read-only view of the chat platform the engine consumes.
// internal/discord implements it on top of a discordgo session.
type Provider interface {
	// FetchPage returns up to limit messages of channelID, newest first,
	// strictly older than beforeID ("" means from the head of the channel).
	FetchPage(ctx context.Context, channelID, beforeID string, limit int) ([]domain.ChatMessage, error)

	// FetchMessage looks up a single message. It returns ErrMessageNotFound
	// when the message no longer exists.
	FetchMessage(ctx context.Context, channelID, messageID string) (*domain.FetchedMessage, error)

	// MessageExists reports whether the message is still present.
	MessageExists(ctx context.Context, channelID, messageID string) (bool, error)
}
