// Package refresh implements the rating refresh pipeline: candidate
// selection and the cycle engine that fetches, aggregates and writes
// back ratings.
package refresh

import (
	"sort"
	"time"

	"github.com/ratesync/ratesync/internal/library"
)

// Filter configures which library items are eligible for a refresh.
type Filter struct {
	// ContentTypes enables refresh per content type. Items of other
	// types are never selected.
	ContentTypes map[library.ContentType]bool

	// DateRangeMin/Max bound the item's release or air date, inclusive.
	// Either may be nil. Items without a date are excluded whenever a
	// bound is set, since they cannot satisfy a range constraint.
	DateRangeMin *time.Time
	DateRangeMax *time.Time

	// MinRefreshInterval keeps an item out of the candidate set until
	// this much time has passed since its last refresh.
	MinRefreshInterval time.Duration
}

// SelectCandidates returns the items due for a refresh at the given
// time, ordered so that never-refreshed items come first and the rest
// ascend by last refresh time. It is a pure function of its inputs.
func SelectCandidates(items []library.MediaItem, filter Filter, now time.Time) []library.MediaItem {
	var candidates []library.MediaItem
	for _, item := range items {
		if eligible(&item, filter, now) {
			candidates = append(candidates, item)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].LastRefreshedAt, candidates[j].LastRefreshedAt
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	return candidates
}

func eligible(item *library.MediaItem, filter Filter, now time.Time) bool {
	if !filter.ContentTypes[item.ContentType] {
		return false
	}

	if filter.DateRangeMin != nil || filter.DateRangeMax != nil {
		if item.ReleaseDate == nil {
			return false
		}
		if filter.DateRangeMin != nil && item.ReleaseDate.Before(*filter.DateRangeMin) {
			return false
		}
		if filter.DateRangeMax != nil && item.ReleaseDate.After(*filter.DateRangeMax) {
			return false
		}
	}

	if item.LastRefreshedAt != nil && now.Sub(*item.LastRefreshedAt) < filter.MinRefreshInterval {
		return false
	}

	return true
}
