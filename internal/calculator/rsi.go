package calculator

import "math"

// SmoothedRSI computes the smoothed relative-strength oscillator:
//
//	RSI = EWMA(max(C-LC, 0)) / EWMA(|C-LC|) * 100
//
// Both averages use alpha = 1/period in recursive form, seeded with the first
// price change (avg[0] = x[0]) rather than a windowed simple average.
// The returned series holds one value per bar from the (period+1)-th bar on,
// so its length is len(closes)-period. A value is NaN when the smoothed
// absolute move is zero. Returns nil if fewer than period+1 closes are given.
func SmoothedRSI(closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period+1 {
		return nil
	}

	alpha := 1.0 / float64(period)
	series := make([]float64, 0, len(closes)-period)

	var avgGain, avgAbs float64
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain := math.Max(change, 0)
		abs := math.Abs(change)

		if i == 1 {
			avgGain, avgAbs = gain, abs
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgAbs = alpha*abs + (1-alpha)*avgAbs
		}

		if i < period {
			continue
		}
		if avgAbs == 0 {
			series = append(series, math.NaN())
		} else {
			series = append(series, avgGain/avgAbs*100)
		}
	}
	return series
}

// LatestRSI returns the most recent oscillator value.
func LatestRSI(closes []float64, period int) (float64, bool) {
	series := SmoothedRSI(closes, period)
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// RSITail returns the last `days` oscillator values in chronological order.
// It fails when the series is shorter than days or any tail value is undefined.
func RSITail(closes []float64, period, days int) ([]float64, bool) {
	if days < 1 {
		return nil, false
	}
	series := SmoothedRSI(closes, period)
	if len(series) < days {
		return nil, false
	}
	tail := series[len(series)-days:]
	for _, v := range tail {
		if math.IsNaN(v) {
			return nil, false
		}
	}
	out := make([]float64, days)
	copy(out, tail)
	return out, true
}
