package rating

// Combine merges the ratings collected for a single item into one value
// using the configured per-source weights scaled by vote count.
//
// Only ratings with StatusOk from enabled sources participate. Returns
// nil when nothing is usable, in which case the caller leaves the item
// untouched. Each participating rating contributes with weight
// configuredWeight * max(1, voteCount), so a source with many votes
// dominates one with very few, while a source that reports no votes
// still counts at its base configured weight.
func Combine(ratings []SourceRating, weights SourceWeights) *AggregatedRating {
	var (
		contributions []Contribution
		weightSum     float64
		votes         int64
	)

	for _, r := range ratings {
		if r.Status != StatusOk || !weights.Enabled(r.Source) {
			continue
		}

		base := weights[r.Source].Weight
		if base < 0 {
			base = 0
		}

		confidence := float64(r.VoteCount)
		if confidence < 1 {
			confidence = 1
		}

		w := base * confidence
		contributions = append(contributions, Contribution{
			Source: r.Source,
			Value:  r.Value,
			Weight: w,
		})
		weightSum += w
		votes += r.VoteCount
	}

	if len(contributions) == 0 || weightSum <= 0 {
		return nil
	}

	var value float64
	for _, c := range contributions {
		value += (c.Weight / weightSum) * c.Value
	}

	// Guard against floating-point drift.
	if value < 0 {
		value = 0
	} else if value > 10 {
		value = 10
	}

	return &AggregatedRating{
		Value:         value,
		VoteCount:     votes,
		Contributions: contributions,
	}
}
