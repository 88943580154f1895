package screener

import (
	"sort"

	"MarketScreener/internal/model"
)

// DefaultMaxCandidates bounds the universe handed to the pool.
const DefaultMaxCandidates = 100

// Select narrows a market snapshot to the candidates worth screening:
// priced rows in segment, ranked by volume (ties by symbol), capped at maxCandidates.
// The input slice is left untouched.
func Select(snapshot []model.CandidateQuote, segment model.MarketSegment, maxCandidates int) []model.CandidateQuote {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	out := make([]model.CandidateQuote, 0, len(snapshot))
	for _, q := range snapshot {
		if q.LastPrice == nil {
			continue
		}
		if !segment.Contains(q.Symbol) {
			continue
		}
		out = append(out, q)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].Symbol < out[j].Symbol
	})

	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}
