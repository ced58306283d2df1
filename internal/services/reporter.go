package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/welcome-tracker/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultUnwelcomedLimit caps the unwelcomed listing when no limit is given.
	DefaultUnwelcomedLimit = 20
	// DefaultLinkHost is the host used in message deep links.
	DefaultLinkHost = "discord.com"
)

// Reporter lists unwelcomed joins as deep links. Listing is not read-only:
// joins whose message has disappeared from the channel are deleted together
// with their ledger row.
type Reporter struct {
	DB       *gorm.DB
	Provider Provider

	GuildID      string
	ChannelID    string
	LinkHost     string
	DefaultLimit int
}

// UnwelcomedLinks returns links to up to limit unwelcomed joins that still
// exist, oldest first. A limit <= 0 uses DefaultLimit.
func (r *Reporter) UnwelcomedLinks(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = r.DefaultLimit
	}
	if limit <= 0 {
		limit = DefaultUnwelcomedLimit
	}

	tr := otel.Tracer("services/Reporter")
	ctx, span := tr.Start(ctx, "UnwelcomedLinks",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	joins, err := repo.ListUnwelcomed(ctx, r.DB, limit)
	if err != nil {
		return nil, fmt.Errorf("list unwelcomed: %w", err)
	}

	kept := make([]string, 0, len(joins))
	for _, j := range joins {
		ok, err := r.Provider.MessageExists(ctx, r.ChannelID, j.MessageID)
		if err != nil {
			log.Warn().Err(err).Str("message_id", j.MessageID).Msg("join lookup failed; treating as missing")
		}
		if ok && err == nil {
			kept = append(kept, j.MessageID)
			continue
		}
		if err := r.removeStale(ctx, j.MessageID); err != nil {
			return nil, err
		}
	}

	links := make([]string, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		links = append(links, r.link(kept[i]))
	}
	span.SetAttributes(attribute.Int("links", len(links)))
	return links, nil
}

// removeStale deletes the join record and its ledger row in one transaction.
func (r *Reporter) removeStale(ctx context.Context, id string) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.DeleteJoin(ctx, tx, id); err != nil {
			return err
		}
		return repo.DeleteProcessed(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("remove stale join %s: %w", id, err)
	}
	staleRemoved.Inc()
	log.Info().Str("message_id", id).Msg("removed join whose message no longer exists")
	return nil
}

func (r *Reporter) link(id string) string {
	host := r.LinkHost
	if host == "" {
		host = DefaultLinkHost
	}
	return fmt.Sprintf("https://%s/channels/%s/%s/%s", host, r.GuildID, r.ChannelID, id)
}
