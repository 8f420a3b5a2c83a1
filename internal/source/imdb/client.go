// Package imdb fetches ratings by scraping the ld+json metadata block
// embedded in IMDb title pages, the same data the site's own markup
// exposes to search engines.
package imdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/ratesync/ratesync/internal/config"
	"github.com/ratesync/ratesync/internal/rating"
	"github.com/ratesync/ratesync/internal/source"
	"github.com/ratesync/ratesync/internal/source/ratelimit"
)

// IMDb blocks default Go user agents, so requests present a browser UA.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/87.0.4280.88 Safari/537.36"

var errNoRatingData = errors.New("no rating data in page")

// Client scrapes ratings from IMDb title pages.
type Client struct {
	httpClient *http.Client
	config     config.IMDbConfig
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
}

// NewClient creates a new IMDb client.
func NewClient(cfg config.IMDbConfig, limiter *ratelimit.Limiter, logger zerolog.Logger) *Client {
	limiter.SetRate(string(rating.SourceIMDb), cfg.RequestsPerSecond)
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		config:  cfg,
		limiter: limiter,
		logger:  logger.With().Str("component", "imdb").Logger(),
	}
}

// Name returns the source identifier.
func (c *Client) Name() rating.Source {
	return rating.SourceIMDb
}

// IsConfigured returns true; IMDb scraping needs no credentials.
func (c *Client) IsConfigured() bool {
	return true
}

// Fetch retrieves the rating for the referenced title. IMDb episode
// pages carry their own tt-ids, so movies and episodes go through the
// same path.
func (c *Client) Fetch(ctx context.Context, ref source.ItemRef) rating.SourceRating {
	result := rating.SourceRating{Source: rating.SourceIMDb}

	if err := c.limiter.Wait(ctx, string(rating.SourceIMDb)); err != nil {
		result.Status = rating.StatusTransientError
		return result
	}

	reqURL := fmt.Sprintf("%s/title/%s/", c.config.BaseURL, ref.ExternalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		result.Status = rating.StatusTransientError
		return result
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("imdbId", ref.ExternalID).Msg("HTTP request failed")
		result.Status = rating.StatusTransientError
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusNotFound:
		result.Status = rating.StatusNotFound
		return result
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		c.logger.Warn().Int("status", resp.StatusCode).Str("imdbId", ref.ExternalID).Msg("IMDb rate limited")
		result.Status = rating.StatusRateLimited
		return result
	default:
		c.logger.Warn().Int("status", resp.StatusCode).Str("imdbId", ref.ExternalID).Msg("Unexpected IMDb status")
		result.Status = rating.StatusTransientError
		return result
	}

	value, votes, err := parseRating(resp)
	if err != nil {
		if errors.Is(err, errNoRatingData) {
			c.logger.Debug().Str("imdbId", ref.ExternalID).Msg("No rating data on IMDb page")
			result.Status = rating.StatusNotFound
			return result
		}
		c.logger.Warn().Err(err).Str("imdbId", ref.ExternalID).Msg("Failed to parse IMDb page")
		result.Status = rating.StatusTransientError
		return result
	}

	result.Value = value
	result.VoteCount = votes
	result.FetchedAt = time.Now().UTC()
	result.Status = rating.StatusOk

	c.logger.Debug().
		Str("imdbId", ref.ExternalID).
		Float64("rating", value).
		Int64("votes", votes).
		Msg("Fetched IMDb rating")

	return result
}

// ldJSON mirrors the fragment of IMDb's schema.org metadata we need.
type ldJSON struct {
	AggregateRating struct {
		RatingValue float64 `json:"ratingValue"`
		RatingCount int64   `json:"ratingCount"`
	} `json:"aggregateRating"`
}

// parseRating extracts ratingValue and ratingCount from the ld+json
// script block of an IMDb title page.
func parseRating(resp *http.Response) (float64, int64, error) {
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var (
		found   bool
		value   float64
		votes   int64
		lastErr error
	)

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var data ldJSON
		if err := json.Unmarshal([]byte(sel.Text()), &data); err != nil {
			lastErr = err
			return true
		}
		if data.AggregateRating.RatingValue == 0 {
			return true
		}
		value = data.AggregateRating.RatingValue
		votes = data.AggregateRating.RatingCount
		found = true
		return false
	})

	if !found {
		if lastErr != nil {
			return 0, 0, fmt.Errorf("failed to decode ld+json: %w", lastErr)
		}
		return 0, 0, errNoRatingData
	}
	return value, votes, nil
}
