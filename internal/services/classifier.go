// Package services – Classifier
//
// This file implements Classifier, which turns one channel message into at
// most one store transaction and reports what it did:
//
//   - below cutoff or already in the ledger  -> OutcomeNotProcessed, no writes
//   - join notification                      -> ledger + join record (find-or-create)
//   - reply into the welcome channel whose
//     target qualifies                       -> ledger + join record marked welcomed
//   - reply into another channel             -> OutcomeNotProcessed, no writes
//   - anything else                          -> ledger only
//
// A unique-constraint violation on any insert means another scan got there
// first; it is reported as OutcomeNotProcessed rather than as an error.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/welcome-tracker/internal/domain"
	"github.com/tbourn/welcome-tracker/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Classifier decides and applies the store mutation for a single message.
type Classifier struct {
	DB       *gorm.DB
	Provider Provider

	// WelcomeChannelID is the only channel replies may reference.
	WelcomeChannelID string
}

// Classify evaluates msg against cutoffID and the current store state. The
// returned error is non-nil only for store failures other than a duplicate.
func (c *Classifier) Classify(ctx context.Context, msg domain.ChatMessage, cutoffID string) (domain.Outcome, error) {
	tr := otel.Tracer("services/Classifier")
	ctx, span := tr.Start(ctx, "Classify",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.kind", msg.Kind.String()),
		),
	)
	defer span.End()

	out, err := c.classify(ctx, msg, cutoffID)
	if err != nil {
		span.RecordError(err)
		return domain.OutcomeNotProcessed, err
	}
	span.SetAttributes(attribute.String("outcome", out.String()))
	classifiedTotal.WithLabelValues(out.String()).Inc()
	return out, nil
}

func (c *Classifier) classify(ctx context.Context, msg domain.ChatMessage, cutoffID string) (domain.Outcome, error) {
	if domain.CompareIDs(msg.ID, cutoffID) < 0 {
		return domain.OutcomeNotProcessed, nil
	}

	done, err := repo.IsProcessed(ctx, c.DB, msg.ID)
	if err != nil {
		return domain.OutcomeNotProcessed, fmt.Errorf("check ledger for %s: %w", msg.ID, err)
	}
	if done {
		return domain.OutcomeNotProcessed, nil
	}

	switch {
	case msg.Kind == domain.KindJoin:
		return c.commit(ctx, msg.ID, domain.OutcomeJoin, func(tx *gorm.DB) error {
			if err := repo.CreateProcessed(ctx, tx, msg.ID); err != nil {
				return err
			}
			return repo.FindOrCreateJoin(ctx, tx, msg.ID)
		})

	case msg.Kind == domain.KindReply && msg.Reference != nil:
		return c.classifyReply(ctx, msg)

	default:
		return c.ledgerOnly(ctx, msg.ID)
	}
}

func (c *Classifier) classifyReply(ctx context.Context, msg domain.ChatMessage) (domain.Outcome, error) {
	ref := msg.Reference
	if ref.ChannelID != c.WelcomeChannelID {
		// Evaluated but left unrecorded. The scanner stops here as it would on
		// an already finalized message.
		return domain.OutcomeNotProcessed, nil
	}

	target, err := c.Provider.FetchMessage(ctx, ref.ChannelID, ref.MessageID)
	if err != nil {
		if !errors.Is(err, ErrMessageNotFound) {
			log.Warn().Err(err).
				Str("reply_id", msg.ID).
				Str("target_id", ref.MessageID).
				Msg("referenced message lookup failed; treating as missing")
		}
		return c.ledgerOnly(ctx, msg.ID)
	}
	if target == nil || !target.HasQualifyingAttachment {
		return c.ledgerOnly(ctx, msg.ID)
	}

	joinID := ref.MessageID
	if target.ID != "" {
		joinID = target.ID
	}
	return c.commit(ctx, msg.ID, domain.OutcomeWelcome, func(tx *gorm.DB) error {
		if err := repo.MarkWelcomed(ctx, tx, joinID, msg.ID); err != nil {
			return err
		}
		return repo.CreateProcessed(ctx, tx, msg.ID)
	})
}

func (c *Classifier) ledgerOnly(ctx context.Context, id string) (domain.Outcome, error) {
	return c.commit(ctx, id, domain.OutcomeIgnored, func(tx *gorm.DB) error {
		return repo.CreateProcessed(ctx, tx, id)
	})
}

// commit runs fn in one transaction and maps a duplicate insert to
// OutcomeNotProcessed.
func (c *Classifier) commit(ctx context.Context, id string, ok domain.Outcome, fn func(tx *gorm.DB) error) (domain.Outcome, error) {
	err := c.DB.WithContext(ctx).Transaction(fn)
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, repo.ErrDuplicate):
		log.Debug().Str("message_id", id).Msg("message recorded by a concurrent scan")
		return domain.OutcomeNotProcessed, nil
	default:
		return domain.OutcomeNotProcessed, fmt.Errorf("record %s: %w", id, err)
	}
}
