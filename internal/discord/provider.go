// Package discord adapts a discordgo session to the reconciliation engine.
// It is the only package that sees raw Discord message type codes; they are
// decoded into domain.MessageKind here and nowhere else.
package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/welcome-tracker/internal/domain"
	"github.com/tbourn/welcome-tracker/internal/services"
)

// messageAPI is the subset of *discordgo.Session the provider uses.
type messageAPI interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Provider implements services.Provider over the Discord REST API.
type Provider struct {
	api messageAPI

	// RequireMarker makes a reply count as a welcome only when the message it
	// answers carries a sticker or an attachment. When false any referenced
	// message that still exists qualifies.
	RequireMarker bool
}

var _ services.Provider = (*Provider)(nil)

// NewProvider wraps a session.
func NewProvider(s *discordgo.Session, requireMarker bool) *Provider {
	return &Provider{api: s, RequireMarker: requireMarker}
}

// FetchPage returns up to limit messages older than beforeID, newest first.
func (p *Provider) FetchPage(ctx context.Context, channelID, beforeID string, limit int) ([]domain.ChatMessage, error) {
	msgs, err := p.api.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, decodeMessage(m))
	}
	return out, nil
}

// FetchMessage looks up one message. Unknown messages map to
// services.ErrMessageNotFound.
func (p *Provider) FetchMessage(ctx context.Context, channelID, messageID string) (*domain.FetchedMessage, error) {
	m, err := p.api.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, services.ErrMessageNotFound
		}
		return nil, err
	}
	return &domain.FetchedMessage{
		ID:                      m.ID,
		HasQualifyingAttachment: p.qualifies(m),
	}, nil
}

// MessageExists reports whether the message can still be fetched.
func (p *Provider) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	_, err := p.FetchMessage(ctx, channelID, messageID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, services.ErrMessageNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (p *Provider) qualifies(m *discordgo.Message) bool {
	if !p.RequireMarker {
		return true
	}
	return len(m.StickerItems) > 0 || len(m.Attachments) > 0
}

// decodeMessage maps a raw Discord message to the engine's view of it.
func decodeMessage(m *discordgo.Message) domain.ChatMessage {
	cm := domain.ChatMessage{ID: m.ID, Kind: domain.KindOther}
	switch m.Type {
	case discordgo.MessageTypeGuildMemberJoin:
		cm.Kind = domain.KindJoin
	case discordgo.MessageTypeReply:
		cm.Kind = domain.KindReply
		if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
			ch := ref.ChannelID
			if ch == "" {
				ch = m.ChannelID
			}
			cm.Reference = &domain.MessageRef{ChannelID: ch, MessageID: ref.MessageID}
		}
	}
	return cm
}

func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound
}
