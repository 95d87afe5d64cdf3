package forecast

import (
	"math"
	"time"
)

// Point is one day of demand history.
type Point struct {
	Date time.Time
	Qty  float64
}

// EMADOWModel is an exponentially smoothed level with day-of-week factors.
type EMADOWModel struct {
	Level      float64
	DOWFactors [7]float64 // indexed by time.Weekday
	Alpha      float64
	NSamples   int
	NCensored  int
}

const (
	// maxAlpha caps the boosted smoothing constant.
	maxAlpha = 0.99
	// minDOWFactor keeps a weekday from being zeroed out entirely.
	minDOWFactor = 0.1
)

// FitEMADOW trains the simple model. censored flags (parallel to history,
// may be nil) drop unreliable days from training; when any censored day is
// present the smoothing constant is boosted so the level recovers faster.
func FitEMADOW(history []Point, censored []bool, alphaBase, alphaBoost float64) EMADOWModel {
	m := EMADOWModel{Alpha: alphaBase}
	for i := range m.DOWFactors {
		m.DOWFactors[i] = 1.0
	}

	filtered := make([]Point, 0, len(history))
	for i, p := range history {
		if i < len(censored) && censored[i] {
			m.NCensored++
			continue
		}
		filtered = append(filtered, p)
	}
	m.NSamples = len(filtered)
	if m.NCensored > 0 {
		m.Alpha = math.Min(maxAlpha, alphaBase+alphaBoost)
	}
	if len(filtered) == 0 {
		return m
	}

	// Level: exponential smoothing, oldest first.
	m.Level = filtered[0].Qty
	for _, p := range filtered[1:] {
		m.Level = m.Alpha*p.Qty + (1-m.Alpha)*m.Level
	}

	m.DOWFactors = fitDOWFactors(filtered, m.Level)
	return m
}

// fitDOWFactors derives seven multiplicative weekday factors from qty/level
// ratios. With >=14 observations the factors are normalized to mean 1.0;
// with 7-13 they apply only where a weekday has >=2 samples; below 7 all
// factors stay at 1.0.
func fitDOWFactors(filtered []Point, level float64) [7]float64 {
	var factors [7]float64
	for i := range factors {
		factors[i] = 1.0
	}
	if len(filtered) < 7 || level <= 0 {
		return factors
	}

	var sums [7]float64
	var counts [7]int
	for _, p := range filtered {
		wd := int(p.Date.Weekday())
		sums[wd] += p.Qty / level
		counts[wd]++
	}

	if len(filtered) >= 14 {
		for i := range factors {
			if counts[i] > 0 {
				factors[i] = sums[i] / float64(counts[i])
			}
		}
		// Normalize so the mean factor is 1.0.
		total := 0.0
		for _, f := range factors {
			total += f
		}
		if total > 0 {
			mean := total / 7
			for i := range factors {
				factors[i] /= mean
			}
		}
	} else {
		for i := range factors {
			if counts[i] >= 2 {
				factors[i] = sums[i] / float64(counts[i])
			}
		}
	}

	for i := range factors {
		if factors[i] < minDOWFactor {
			factors[i] = minDOWFactor
		}
	}
	return factors
}

// Predict returns the expected demand for a date, never negative.
func (m EMADOWModel) Predict(date time.Time) float64 {
	return math.Max(0, m.Level*m.DOWFactors[int(date.Weekday())])
}

// PredictHorizon sums predictions for the days days starting the day after
// asof.
func (m EMADOWModel) PredictHorizon(asof time.Time, days int) float64 {
	total := 0.0
	for i := 1; i <= days; i++ {
		total += m.Predict(asof.AddDate(0, 0, i))
	}
	return total
}
