package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// NewSession creates a bot session with the intents needed to read guild
// channel history.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	return s, nil
}

// Bot wires the gateway lifecycle: presence, command registration, command
// handling and the optional scan when the connection becomes ready.
type Bot struct {
	Session  *discordgo.Session
	Engine   Engine
	Commands *Commands
	GuildID  string

	RegisterCommands bool
	RefreshOnStart   bool
	// ScanTimeout bounds the startup scan; zero means no limit.
	ScanTimeout time.Duration
}

// Open installs handlers and connects to the gateway.
func (b *Bot) Open() error {
	b.Session.AddHandler(b.onReady)
	if b.Commands != nil {
		b.Session.AddHandler(b.Commands.Handle)
	}
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.Session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().Str("user", r.User.Username).Msg("discord session ready")

	if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusInvisible),
	}); err != nil {
		log.Warn().Err(err).Msg("set presence")
	}

	if b.RegisterCommands {
		if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.GuildID, CommandDefinitions()); err != nil {
			log.Error().Err(err).Msg("register slash commands")
		} else {
			log.Info().Str("guild_id", b.GuildID).Msg("slash commands registered")
		}
	}

	if b.RefreshOnStart && b.Engine != nil {
		go b.startupScan()
	}
}

func (b *Bot) startupScan() {
	ctx := context.Background()
	if b.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.ScanTimeout)
		defer cancel()
	}
	if _, err := b.Engine.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("startup scan failed")
	}
}
