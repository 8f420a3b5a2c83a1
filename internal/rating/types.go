// Package rating defines the rating domain types and the weighted
// aggregation of ratings collected from external sources.
package rating

import "time"

// Source identifies an external rating provider.
type Source string

const (
	SourceIMDb  Source = "imdb"
	SourceTrakt Source = "trakt"
)

// Status describes the outcome of a single source fetch.
type Status string

const (
	// StatusOk means the source returned a usable rating.
	StatusOk Status = "ok"
	// StatusNotFound means the source has no data for the item. This is
	// an expected condition, not an error.
	StatusNotFound Status = "not_found"
	// StatusRateLimited means the source rejected the request due to
	// back-pressure; the caller should stop asking this source for a while.
	StatusRateLimited Status = "rate_limited"
	// StatusTransientError covers network, timeout and parse failures
	// that are worth retrying.
	StatusTransientError Status = "transient_error"
)

// SourceRating is the result of querying one source for one item.
// Value and VoteCount are only meaningful when Status is StatusOk.
type SourceRating struct {
	Source    Source    `json:"source"`
	Value     float64   `json:"value"`
	VoteCount int64     `json:"voteCount"`
	FetchedAt time.Time `json:"fetchedAt"`
	Status    Status    `json:"status"`
}

// SourceWeight holds the enable flag and relative weight for one source.
// Weights do not need to sum to 1; the aggregator normalizes.
type SourceWeight struct {
	Enabled bool
	Weight  float64
}

// SourceWeights maps each source to its configuration.
type SourceWeights map[Source]SourceWeight

// Enabled reports whether the source participates in aggregation.
func (w SourceWeights) Enabled(s Source) bool {
	return w[s].Enabled
}

// EnabledSources returns the sources that are switched on, in a fixed
// order (imdb, trakt, then anything else alphabetically is not needed
// since the map is small and callers iterate known sources).
func (w SourceWeights) EnabledSources() []Source {
	var out []Source
	for _, s := range []Source{SourceIMDb, SourceTrakt} {
		if w.Enabled(s) {
			out = append(out, s)
		}
	}
	return out
}

// Contribution records one source's share of an aggregated rating.
// Weight is the effective pre-normalization weight, kept for audit.
type Contribution struct {
	Source Source  `json:"source"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// AggregatedRating is the combined result written back to the library.
type AggregatedRating struct {
	Value         float64        `json:"value"`
	VoteCount     int64          `json:"voteCount"`
	Contributions []Contribution `json:"contributions"`
}
