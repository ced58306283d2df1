package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/welcome-tracker/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPageSize is the history page size used when none is configured.
const DefaultPageSize = 100

// ScanResult summarises one scan.
type ScanResult struct {
	Pages    int `json:"pages"`
	Joins    int `json:"joins"`
	Welcomes int `json:"welcomes"`
	Ignored  int `json:"ignored"`
}

// Processed is the number of messages newly recorded by the scan.
func (r ScanResult) Processed() int { return r.Joins + r.Welcomes + r.Ignored }

func (r *ScanResult) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeJoin:
		r.Joins++
	case domain.OutcomeWelcome:
		r.Welcomes++
	case domain.OutcomeIgnored:
		r.Ignored++
	}
}

// Scanner walks channel history backwards, newest page first, and feeds every
// message to the Classifier.
type Scanner struct {
	Provider   Provider
	Classifier *Classifier
	PageSize   int
}

// Scan classifies channelID from its head down to cutoffID.
//
// It halts at the first message classified OutcomeNotProcessed, skipping the
// rest of that page and all older pages, and when a page comes back empty.
// This relies on message ids increasing with creation time: everything older
// than a finalized or below-cutoff message is assumed finalized too.
//
// A page request failure aborts the scan with a *PageFetchError. Store
// failures from the classifier abort it as well. Work committed before the
// failure is kept.
func (s *Scanner) Scan(ctx context.Context, channelID, cutoffID string) (ScanResult, error) {
	tr := otel.Tracer("services/Scanner")
	ctx, span := tr.Start(ctx, "Scan",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.String("cutoff.id", cutoffID),
		),
	)
	defer span.End()

	size := s.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	var (
		res    ScanResult
		before string
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := s.Provider.FetchPage(ctx, channelID, before, size)
		if err != nil {
			span.RecordError(err)
			return res, &PageFetchError{ChannelID: channelID, Before: before, Err: err}
		}
		if len(page) == 0 {
			return res, nil
		}
		res.Pages++
		pagesFetched.Inc()
		log.Debug().
			Str("channel_id", channelID).
			Str("before", before).
			Int("messages", len(page)).
			Msg("received history page")

		for _, m := range page {
			out, err := s.Classifier.Classify(ctx, m, cutoffID)
			if err != nil {
				span.RecordError(err)
				return res, err
			}
			if !out.Processed() {
				span.SetAttributes(attribute.String("stopped_at", m.ID))
				return res, nil
			}
			res.add(out)
		}

		before = domain.OldestID(page)
	}
}
