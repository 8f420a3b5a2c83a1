// Package trakt fetches ratings from the Trakt v2 API.
package trakt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ratesync/ratesync/internal/config"
	"github.com/ratesync/ratesync/internal/library"
	"github.com/ratesync/ratesync/internal/rating"
	"github.com/ratesync/ratesync/internal/source"
	"github.com/ratesync/ratesync/internal/source/ratelimit"
)

const apiVersion = "2"

// Client is a Trakt API client. Trakt resolves IMDb tt-ids directly, so
// library items carry no separate Trakt identifier.
type Client struct {
	httpClient *http.Client
	config     config.TraktConfig
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
}

// NewClient creates a new Trakt client.
func NewClient(cfg config.TraktConfig, limiter *ratelimit.Limiter, logger zerolog.Logger) *Client {
	limiter.SetRate(string(rating.SourceTrakt), cfg.RequestsPerSecond)
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		config:  cfg,
		limiter: limiter,
		logger:  logger.With().Str("component", "trakt").Logger(),
	}
}

// Name returns the source identifier.
func (c *Client) Name() rating.Source {
	return rating.SourceTrakt
}

// IsConfigured returns true if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// ratingsResponse covers both the extended-info and the /ratings
// endpoints; each exposes rating and votes at the top level.
type ratingsResponse struct {
	Rating float64 `json:"rating"`
	Votes  int64   `json:"votes"`
}

// Fetch retrieves the rating for the referenced item. Movies and shows
// resolve by their own id; seasons and episodes go through the parent
// show's id.
func (c *Client) Fetch(ctx context.Context, ref source.ItemRef) rating.SourceRating {
	result := rating.SourceRating{Source: rating.SourceTrakt}

	reqURL, err := c.requestURL(ref)
	if err != nil {
		c.logger.Debug().Err(err).Str("externalId", ref.ExternalID).Msg("Cannot build Trakt request")
		result.Status = rating.StatusNotFound
		return result
	}

	if err := c.limiter.Wait(ctx, string(rating.SourceTrakt)); err != nil {
		result.Status = rating.StatusTransientError
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		result.Status = rating.StatusTransientError
		return result
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-key", c.config.APIKey)
	req.Header.Set("trakt-api-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", reqURL).Msg("HTTP request failed")
		result.Status = rating.StatusTransientError
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decoding
	case resp.StatusCode == http.StatusNotFound:
		result.Status = rating.StatusNotFound
		return result
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn().Str("url", reqURL).Msg("Trakt rate limited")
		result.Status = rating.StatusRateLimited
		return result
	default:
		c.logger.Warn().Int("status", resp.StatusCode).Str("url", reqURL).Msg("Unexpected Trakt status")
		result.Status = rating.StatusTransientError
		return result
	}

	var body ratingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Warn().Err(err).Str("url", reqURL).Msg("Failed to decode Trakt response")
		result.Status = rating.StatusTransientError
		return result
	}

	if body.Rating == 0 && body.Votes == 0 {
		// Trakt returns zeroes for items nobody has rated yet.
		result.Status = rating.StatusNotFound
		return result
	}

	result.Value = body.Rating
	result.VoteCount = body.Votes
	result.FetchedAt = time.Now().UTC()
	result.Status = rating.StatusOk

	c.logger.Debug().
		Str("externalId", ref.ExternalID).
		Float64("rating", body.Rating).
		Int64("votes", body.Votes).
		Msg("Fetched Trakt rating")

	return result
}

// requestURL builds the endpoint for the item's content type.
func (c *Client) requestURL(ref source.ItemRef) (string, error) {
	switch ref.ContentType {
	case library.ContentTypeMovie:
		return fmt.Sprintf("%s/movies/%s?extended=full", c.config.BaseURL, ref.ExternalID), nil
	case library.ContentTypeTVShow:
		return fmt.Sprintf("%s/shows/%s?extended=full", c.config.BaseURL, ref.ExternalID), nil
	case library.ContentTypeSeason:
		if ref.ShowExternalID == "" {
			return "", fmt.Errorf("season lookup requires show id")
		}
		return fmt.Sprintf("%s/shows/%s/seasons/%d/ratings", c.config.BaseURL, ref.ShowExternalID, ref.SeasonNumber), nil
	case library.ContentTypeEpisode:
		if ref.ShowExternalID == "" {
			return "", fmt.Errorf("episode lookup requires show id")
		}
		return fmt.Sprintf("%s/shows/%s/seasons/%d/episodes/%d/ratings",
			c.config.BaseURL, ref.ShowExternalID, ref.SeasonNumber, ref.EpisodeNumber), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", ref.ContentType)
	}
}
