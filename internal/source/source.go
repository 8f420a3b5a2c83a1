// Package source defines the rating source client interface shared by
// all provider adapters.
package source

import (
	"context"

	"github.com/ratesync/ratesync/internal/library"
	"github.com/ratesync/ratesync/internal/rating"
)

// ItemRef identifies one library item to a rating source. ExternalID is
// the item's own identifier at the source; ShowExternalID is the parent
// show's identifier, which episode lookups need on some providers.
type ItemRef struct {
	ExternalID     string
	ShowExternalID string
	ContentType    library.ContentType
	SeasonNumber   int
	EpisodeNumber  int
}

// Client fetches ratings from one external source.
//
// Fetch reports ordinary conditions through SourceRating.Status rather
// than an error: missing data is StatusNotFound, provider back-pressure
// is StatusRateLimited, and network or parse trouble is
// StatusTransientError. Clients never retry; retry policy belongs to
// the refresh pipeline. Callers must not invoke Fetch with an empty
// ExternalID — clients never infer identifiers.
type Client interface {
	// Name returns the source identifier.
	Name() rating.Source

	// IsConfigured returns true if the client has required configuration.
	IsConfigured() bool

	// Fetch retrieves the rating for one item.
	Fetch(ctx context.Context, ref ItemRef) rating.SourceRating
}
