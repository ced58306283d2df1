// Package services holds the reconciliation engine: the message classifier,
// the backward channel scanner and the unwelcomed-link reporter. This file
// centralizes the service-level error values so callers can check them with
// errors.Is / errors.As.
//
// Translation into user-facing replies or HTTP status codes happens in the
// handler and command layers.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageNotFound is returned by a Provider when a single message
	// lookup finds nothing (deleted or inaccessible).
	ErrMessageNotFound = errors.New("message not found")

	// ErrNoProvider is returned when an operation needs the chat platform but
	// the Reconciler was built without one.
	ErrNoProvider = errors.New("no message provider configured")
)

// PageFetchError reports a failed history page request. It aborts the scan
// that issued it; mutations committed for earlier pages stay in place.
type PageFetchError struct {
	ChannelID string
	Before    string
	Err       error
}

func (e *PageFetchError) Error() string {
	if e.Before == "" {
		return fmt.Sprintf("fetch page of channel %s: %v", e.ChannelID, e.Err)
	}
	return fmt.Sprintf("fetch page of channel %s before %s: %v", e.ChannelID, e.Before, e.Err)
}

func (e *PageFetchError) Unwrap() error { return e.Err }
