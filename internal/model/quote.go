package model

import "strings"

// CandidateQuote is one row of a full-market snapshot.
// LastPrice is nil for halted or delisted instruments.
type CandidateQuote struct {
	Symbol        string
	Name          string
	LastPrice     *float64
	ChangePercent float64
	Industry      string
	Volume        float64
}

// UnknownIndustry is shown when the snapshot carries no industry.
const UnknownIndustry = "未知"

// MarketSegment restricts the candidate universe by symbol prefix.
type MarketSegment string

const (
	SegmentAll          MarketSegment = "all"
	SegmentShanghaiMain MarketSegment = "sh_main"
	SegmentShenzhenMain MarketSegment = "sz_main"
)

var segmentPrefixes = map[MarketSegment][]string{
	SegmentShanghaiMain: {"60"},
	SegmentShenzhenMain: {"00"},
}

// Valid reports whether s is a known segment.
func (s MarketSegment) Valid() bool {
	switch s {
	case SegmentAll, SegmentShanghaiMain, SegmentShenzhenMain:
		return true
	}
	return false
}

// Contains reports whether symbol belongs to the segment.
func (s MarketSegment) Contains(symbol string) bool {
	prefixes, ok := segmentPrefixes[s]
	if !ok {
		return s == SegmentAll
	}
	for _, p := range prefixes {
		if strings.HasPrefix(symbol, p) {
			return true
		}
	}
	return false
}

// ParseSegment maps user input (including the Chinese board names) to a segment.
func ParseSegment(v string) (MarketSegment, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "all", "沪深a股":
		return SegmentAll, true
	case "sh_main", "sh", "上证主板":
		return SegmentShanghaiMain, true
	case "sz_main", "sz", "深证主板":
		return SegmentShenzhenMain, true
	}
	return "", false
}
