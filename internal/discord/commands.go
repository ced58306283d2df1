package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tbourn/welcome-tracker/internal/services"
)

// Command names and reply texts.
const (
	CmdRefresh = "refresh"
	CmdWelcome = "welcome"

	replyRefreshing = "Refreshing (this may take a while)..."
	replyGetting    = "Getting links (this may take a while)..."
	replyLinks      = "Your links:\n"
	replyNoLinks    = "No unwelcomed joins."
	replyFailed     = "There was an error while executing this command!"

	// maxReplyLength is Discord's limit on message content.
	maxReplyLength = 2000
)

// Engine is what slash commands drive. *services.Reconciler implements it.
type Engine interface {
	Refresh(ctx context.Context) (services.ScanResult, error)
	ListUnwelcomed(ctx context.Context, limit int) ([]string, error)
}

// interactionAPI is the subset of *discordgo.Session used to answer commands.
type interactionAPI interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// CommandDefinitions returns the guild slash commands. Both default to
// administrators and are unavailable in DMs.
func CommandDefinitions() []*discordgo.ApplicationCommand {
	perm := int64(discordgo.PermissionAdministrator)
	dm := false
	return []*discordgo.ApplicationCommand{
		{
			Name:                     CmdRefresh,
			Description:              "Scan the welcome channel for joins and welcomes (any reply counts unless a marker is required)",
			DefaultMemberPermissions: &perm,
			DMPermission:             &dm,
		},
		{
			Name:                     CmdWelcome,
			Description:              "Refresh, then list joins that still need a welcome",
			DefaultMemberPermissions: &perm,
			DMPermission:             &dm,
		},
	}
}

// Commands answers /refresh and /welcome.
type Commands struct {
	Engine Engine
	// Timeout bounds one command run; zero means no limit.
	Timeout time.Duration

	printer *message.Printer
}

// NewCommands returns a command handler with an English number printer.
func NewCommands(e Engine, timeout time.Duration) *Commands {
	return &Commands{Engine: e, Timeout: timeout, printer: message.NewPrinter(language.English)}
}

// Handle is registered with Session.AddHandler.
func (c *Commands) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	c.dispatch(context.Background(), s, i.Interaction)
}

// dispatch acknowledges the command ephemerally, runs it, then edits the
// acknowledgement with the result.
func (c *Commands) dispatch(ctx context.Context, api interactionAPI, in *discordgo.Interaction) {
	name := in.ApplicationCommandData().Name
	var ack string
	switch name {
	case CmdRefresh:
		ack = replyRefreshing
	case CmdWelcome:
		ack = replyGetting
	default:
		return
	}

	l := log.With().Str("command", name).Str("interaction_id", in.ID).Logger()

	err := api.InteractionRespond(in, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: ack,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		l.Error().Err(err).Msg("acknowledge command")
		return
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var answer string
	switch name {
	case CmdRefresh:
		answer, err = c.refresh(ctx)
	case CmdWelcome:
		answer, err = c.welcome(ctx)
	}
	if err != nil {
		l.Error().Err(err).Msg("command failed")
		answer = replyFailed
	}

	if _, err := api.InteractionResponseEdit(in, &discordgo.WebhookEdit{Content: &answer}); err != nil {
		l.Error().Err(err).Msg("edit command reply")
	}
}

func (c *Commands) refresh(ctx context.Context) (string, error) {
	res, err := c.Engine.Refresh(ctx)
	if err != nil {
		return "", err
	}
	pr := c.printer
	if pr == nil {
		pr = message.NewPrinter(language.English)
	}
	return pr.Sprintf("Refreshed! %d new messages over %d pages (%d joins, %d welcomes).",
		res.Processed(), res.Pages, res.Joins, res.Welcomes), nil
}

func (c *Commands) welcome(ctx context.Context) (string, error) {
	if _, err := c.Engine.Refresh(ctx); err != nil {
		return "", err
	}
	links, err := c.Engine.ListUnwelcomed(ctx, 0)
	if err != nil {
		return "", err
	}
	if len(links) == 0 {
		return replyNoLinks, nil
	}
	return linksReply(links), nil
}

// linksReply lists as many links as fit in one message and notes how many
// were left out.
func linksReply(links []string) string {
	var b strings.Builder
	b.WriteString(replyLinks)
	for i, l := range links {
		more := len(links) - i - 1
		need := len(l)
		if i > 0 {
			need++
		}
		if more > 0 {
			need += len(moreLinks(more))
		}
		if b.Len()+need > maxReplyLength {
			b.WriteString(moreLinks(len(links) - i))
			return b.String()
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}

func moreLinks(n int) string {
	return fmt.Sprintf("\n...and %d more", n)
}
