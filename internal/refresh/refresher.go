package refresh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ratesync/ratesync/internal/library"
	"github.com/ratesync/ratesync/internal/rating"
	"github.com/ratesync/ratesync/internal/source"
)

// ErrCycleInProgress is returned when a cycle is requested while one is
// already running; cycles never overlap.
var ErrCycleInProgress = errors.New("refresh cycle already in progress")

// Store is the slice of the library the refresher needs.
type Store interface {
	ListItems(ctx context.Context, contentTypes []library.ContentType) ([]library.MediaItem, error)
	UpdateRating(ctx context.Context, id int64, value float64, votes int64, refreshedAt time.Time) error
	TouchRefreshed(ctx context.Context, id int64, refreshedAt time.Time) error
}

// Notifier receives cycle progress for the log viewer. Implementations
// must be fast; calls happen on the cycle goroutine.
type Notifier interface {
	RunStarted(report *Report)
	ItemProcessed(report *Report, result ItemResult)
	RunCompleted(report *Report)
}

// Options configures a Refresher.
type Options struct {
	Filter        Filter
	Weights       rating.SourceWeights
	RetryAttempts int
	RetryBackoff  time.Duration
	Clock         clockwork.Clock
	Notifier      Notifier
}

// Refresher drives one full refresh cycle: select candidates, fetch
// ratings from each enabled source, aggregate, write back. It owns the
// per-cycle retry, backoff and rate-limit circuit state.
type Refresher struct {
	store   Store
	clients []source.Client
	opts    Options
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewRefresher creates a refresher over the given store and source
// clients. Clients that report IsConfigured() == false, or whose source
// is disabled in the weights, are never invoked.
func NewRefresher(store Store, clients []source.Client, opts Options, logger zerolog.Logger) *Refresher {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Refresher{
		store:   store,
		clients: clients,
		opts:    opts,
		logger:  logger.With().Str("component", "refresh").Logger(),
	}
}

// Running reports whether a cycle is currently executing.
func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunCycle executes one refresh cycle and returns its report. A second
// concurrent call returns ErrCycleInProgress. Per-item and per-source
// failures never abort the cycle; only an unreadable library or a
// cancelled context cut it short, and even then the report covers
// everything processed so far.
func (r *Refresher) RunCycle(ctx context.Context, trigger string) (*Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrCycleInProgress
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	now := r.opts.Clock.Now().UTC()
	report := &Report{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: now,
	}

	contentTypes := make([]library.ContentType, 0, len(r.opts.Filter.ContentTypes))
	for ct, enabled := range r.opts.Filter.ContentTypes {
		if enabled {
			contentTypes = append(contentTypes, ct)
		}
	}
	sort.Slice(contentTypes, func(i, j int) bool { return contentTypes[i] < contentTypes[j] })

	items, err := r.store.ListItems(ctx, contentTypes)
	if err != nil {
		report.FinishedAt = r.opts.Clock.Now().UTC()
		return report, fmt.Errorf("failed to list library items: %w", err)
	}

	candidates := SelectCandidates(items, r.opts.Filter, now)
	report.Selected = len(candidates)

	r.logger.Info().
		Str("runId", report.RunID).
		Str("trigger", trigger).
		Int("library", len(items)).
		Int("candidates", len(candidates)).
		Msg("Starting refresh cycle")

	if r.opts.Notifier != nil {
		r.opts.Notifier.RunStarted(report)
	}

	// Rate-limit circuit state is per cycle: once a source signals
	// back-pressure it sits out the remaining candidates.
	cycle := &cycleState{open: make(map[rating.Source]bool)}

	var cycleErr error
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			r.logger.Warn().Str("runId", report.RunID).Msg("Refresh cycle cancelled")
			cycleErr = err
			break
		}

		result := r.processItem(ctx, &candidates[i], cycle, now)
		report.record(result)

		if r.opts.Notifier != nil {
			r.opts.Notifier.ItemProcessed(report, result)
		}
	}

	report.FinishedAt = r.opts.Clock.Now().UTC()

	r.logger.Info().
		Str("runId", report.RunID).
		Int("selected", report.Selected).
		Int("updated", report.Updated).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Refresh cycle completed")

	if r.opts.Notifier != nil {
		r.opts.Notifier.RunCompleted(report)
	}

	return report, cycleErr
}

// cycleState holds the per-source circuit flags shared by the parallel
// fetches of a cycle.
type cycleState struct {
	mu   sync.Mutex
	open map[rating.Source]bool
}

func (c *cycleState) isOpen(s rating.Source) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[s]
}

func (c *cycleState) trip(s rating.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[s] = true
}

// processItem fetches from every usable source, aggregates and writes
// back. Source fetches run concurrently; all finish before aggregation.
func (r *Refresher) processItem(ctx context.Context, item *library.MediaItem, cycle *cycleState, now time.Time) ItemResult {
	type fetchSlot struct {
		result      rating.SourceRating
		skipped     bool // no external id for this source
		circuitOpen bool
	}

	slots := make([]fetchSlot, len(r.clients))
	var wg sync.WaitGroup

	for i, client := range r.clients {
		name := client.Name()
		if !r.opts.Weights.Enabled(name) || !client.IsConfigured() {
			slots[i].skipped = true
			continue
		}

		ref := source.ItemRef{
			ExternalID:     item.ExternalID(string(name)),
			ShowExternalID: item.ShowExternalID(string(name)),
			ContentType:    item.ContentType,
			SeasonNumber:   item.SeasonNumber,
			EpisodeNumber:  item.EpisodeNumber,
		}
		if ref.ExternalID == "" {
			// Missing identifier is not an error; the source just
			// sits this item out.
			slots[i].skipped = true
			continue
		}

		if cycle.isOpen(name) {
			slots[i].circuitOpen = true
			continue
		}

		wg.Add(1)
		go func(i int, client source.Client, ref source.ItemRef) {
			defer wg.Done()
			slots[i].result = r.fetchWithRetry(ctx, client, ref)
		}(i, client, ref)
	}

	wg.Wait()

	var (
		ratings     []rating.SourceRating
		rateLimited []string
	)
	for i, client := range r.clients {
		if slots[i].skipped {
			continue
		}
		if slots[i].circuitOpen {
			rateLimited = append(rateLimited, string(client.Name()))
			continue
		}
		res := slots[i].result
		if res.Status == rating.StatusRateLimited {
			cycle.trip(res.Source)
			rateLimited = append(rateLimited, string(res.Source))
		}
		ratings = append(ratings, res)
	}

	agg := rating.Combine(ratings, r.opts.Weights)
	if agg == nil {
		reason := "no usable ratings"
		if len(rateLimited) > 0 {
			reason = "rate limited: " + strings.Join(rateLimited, ", ")
		}
		r.logger.Debug().Int64("itemId", item.ID).Str("title", item.Title).Str("reason", reason).Msg("Item skipped")
		return ItemResult{ItemID: item.ID, Title: item.Title, Outcome: OutcomeSkipped, Reason: reason}
	}

	// Ratings are displayed to one decimal, so compare and store at
	// that precision.
	value := math.Round(agg.Value*10) / 10

	if item.Rating != nil && *item.Rating == value {
		if err := r.store.TouchRefreshed(ctx, item.ID, now); err != nil {
			r.logger.Warn().Err(err).Int64("itemId", item.ID).Msg("Failed to mark item refreshed")
			return ItemResult{ItemID: item.ID, Title: item.Title, Outcome: OutcomeFailed, Reason: fmt.Sprintf("write failed: %v", err)}
		}
		return ItemResult{
			ItemID: item.ID, Title: item.Title,
			Outcome: OutcomeSkipped, Reason: "rating unchanged",
			Rating: value, Votes: agg.VoteCount,
		}
	}

	if err := r.store.UpdateRating(ctx, item.ID, value, agg.VoteCount, now); err != nil {
		r.logger.Warn().Err(err).Int64("itemId", item.ID).Str("title", item.Title).Msg("Failed to write rating")
		return ItemResult{ItemID: item.ID, Title: item.Title, Outcome: OutcomeFailed, Reason: fmt.Sprintf("write failed: %v", err)}
	}

	oldRating := 0.0
	if item.Rating != nil {
		oldRating = *item.Rating
	}
	r.logger.Info().
		Int64("itemId", item.ID).
		Str("title", item.Title).
		Float64("oldRating", oldRating).
		Float64("newRating", value).
		Int64("votes", agg.VoteCount).
		Msg("Updated rating")

	return ItemResult{
		ItemID: item.ID, Title: item.Title,
		Outcome: OutcomeUpdated,
		Rating:  value, Votes: agg.VoteCount,
	}
}

// fetchWithRetry retries transient failures with exponential backoff.
// NotFound and RateLimited results return immediately; retrying them
// within a cycle is pointless.
func (r *Refresher) fetchWithRetry(ctx context.Context, client source.Client, ref source.ItemRef) rating.SourceRating {
	backoff := r.opts.RetryBackoff
	var result rating.SourceRating

	for attempt := 1; attempt <= r.opts.RetryAttempts; attempt++ {
		result = client.Fetch(ctx, ref)
		if result.Status != rating.StatusTransientError {
			return result
		}
		if attempt == r.opts.RetryAttempts {
			break
		}

		r.logger.Debug().
			Str("source", string(client.Name())).
			Str("externalId", ref.ExternalID).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Transient source failure, retrying")

		timer := r.opts.Clock.NewTimer(backoff)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return result
		}
		timer.Stop()
		backoff *= 2
	}

	return result
}
