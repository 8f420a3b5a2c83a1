// Package library holds the media item model and the sqlite-backed
// store the refresh pipeline reads from and writes back to.
package library

import "time"

// ContentType classifies a library entry.
type ContentType string

const (
	ContentTypeMovie   ContentType = "movie"
	ContentTypeTVShow  ContentType = "tvshow"
	ContentTypeSeason  ContentType = "season"
	ContentTypeEpisode ContentType = "episode"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeMovie, ContentTypeTVShow, ContentTypeSeason, ContentTypeEpisode:
		return true
	}
	return false
}

// MediaItem is one entry in the media library. The refresh pipeline
// only ever updates Rating, Votes and LastRefreshedAt; everything else
// belongs to the library host.
type MediaItem struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	ContentType ContentType `json:"contentType"`

	// ReleaseDate is the release date for movies and the air date for
	// episodes. May be unset, in which case date-range filters exclude
	// the item.
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`

	// ExternalIDs maps a source name to that source's identifier, e.g.
	// "imdb" -> "tt0903747". Partially populated in practice.
	ExternalIDs map[string]string `json:"externalIds,omitempty"`

	// ShowExternalIDs carries the parent show's identifiers for
	// episodes; Trakt episode lookups go through the show id.
	ShowExternalIDs map[string]string `json:"showExternalIds,omitempty"`

	SeasonNumber  int `json:"seasonNumber,omitempty"`
	EpisodeNumber int `json:"episodeNumber,omitempty"`

	// Rating and Votes are the last values written to the library;
	// nil when the item has never been rated.
	Rating *float64 `json:"rating,omitempty"`
	Votes  *int64   `json:"votes,omitempty"`

	// LastRefreshedAt is the last time this pipeline updated the item;
	// nil means never refreshed.
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
}

// ExternalID returns the item's identifier for the given source, or ""
// when the source has none.
func (m *MediaItem) ExternalID(source string) string {
	return m.ExternalIDs[source]
}

// ShowExternalID returns the parent show's identifier for the given
// source. Falls back to the item's own id for non-episode content.
func (m *MediaItem) ShowExternalID(source string) string {
	if id, ok := m.ShowExternalIDs[source]; ok {
		return id
	}
	return m.ExternalIDs[source]
}
