package forecast

import (
	"math"
	"sort"
	"time"
)

// zTable maps target service levels to standard-normal quantiles. Lookups
// use the nearest key.
var zTable = map[float64]float64{
	0.50:  0,
	0.90:  1.282,
	0.95:  1.645,
	0.98:  2.054,
	0.99:  2.326,
	0.995: 2.576,
	0.999: 3.090,
}

// ZForCSL returns the z value for a target service level, using the nearest
// table key for non-listed targets.
func ZForCSL(csl float64) float64 {
	bestKey := 0.50
	bestDist := math.Inf(1)
	for k := range zTable {
		d := math.Abs(k - csl)
		if d < bestDist {
			bestDist = d
			bestKey = k
		}
	}
	return zTable[bestKey]
}

// Predictor forecasts demand for one future date.
type Predictor func(date time.Time) float64

// Trainer fits a model on a training slice and returns its predictor.
type Trainer func(train []Point) Predictor

// RollingResiduals computes one-step-ahead signed residuals: for each index
// i >= windowDays the model is retrained on [i-windowDays, i) and predicts
// index i. Censored target days are skipped.
func RollingResiduals(history []Point, censored []bool, windowDays int, train Trainer) []float64 {
	if windowDays <= 0 || len(history) <= windowDays {
		return nil
	}
	var residuals []float64
	for i := windowDays; i < len(history); i++ {
		if i < len(censored) && censored[i] {
			continue
		}
		predict := train(history[i-windowDays : i])
		residuals = append(residuals, history[i].Qty-predict(history[i].Date))
	}
	return residuals
}

// AggregatedResiduals computes rolling residuals on horizonDays-day sums:
// for each index i >= windowDays with a full horizon ahead, the model is
// retrained on [i-windowDays, i) and the residual is the actual sum over
// [i, i+horizonDays) minus the predicted sum. Windows containing a censored
// day are skipped. The result is already horizon-scale, so MADSigma over it
// needs no further scaling.
func AggregatedResiduals(history []Point, censored []bool, windowDays, horizonDays int, train Trainer) []float64 {
	if windowDays <= 0 || horizonDays <= 0 || len(history) < windowDays+horizonDays {
		return nil
	}
	var residuals []float64
	for i := windowDays; i+horizonDays <= len(history); i++ {
		if anyCensored(censored, i, i+horizonDays) {
			continue
		}
		predict := train(history[i-windowDays : i])
		var actual, predicted float64
		for j := i; j < i+horizonDays; j++ {
			actual += history[j].Qty
			predicted += predict(history[j].Date)
		}
		residuals = append(residuals, actual-predicted)
	}
	return residuals
}

func anyCensored(censored []bool, from, to int) bool {
	for i := from; i < to && i < len(censored); i++ {
		if censored[i] {
			return true
		}
	}
	return false
}

// MADSigma is the robust daily sigma: 1.4826 x median(|r - median(r)|).
func MADSigma(residuals []float64) float64 {
	if len(residuals) == 0 {
		return 0
	}
	med := median(residuals)
	devs := make([]float64, len(residuals))
	for i, r := range residuals {
		devs[i] = math.Abs(r - med)
	}
	return 1.4826 * median(devs)
}

// WinsorizedStd clips the residual tails at the trim proportion on each side
// before taking the standard deviation.
func WinsorizedStd(residuals []float64, trim float64) float64 {
	n := len(residuals)
	if n == 0 {
		return 0
	}
	if trim < 0 {
		trim = 0
	}
	if trim > 0.5 {
		trim = 0.5
	}
	sorted := append([]float64{}, residuals...)
	sort.Float64s(sorted)

	k := int(math.Floor(trim * float64(n)))
	lo, hi := sorted[k], sorted[n-1-k]
	clipped := make([]float64, n)
	for i, r := range sorted {
		clipped[i] = math.Min(math.Max(r, lo), hi)
	}
	return stdDev(clipped)
}

// SigmaOverHorizon scales a daily sigma to a P-day horizon under the
// independent-error approximation.
func SigmaOverHorizon(sigmaDaily float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	return sigmaDaily * math.Sqrt(float64(days))
}

// SafetyStock converts a horizon sigma into units at the target service
// level.
func SafetyStock(csl, sigmaHorizon float64) float64 {
	return ZForCSL(csl) * sigmaHorizon
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(n-1))
}
