package forecast

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
)

// MC distribution and output options.
const (
	MCDistEmpirical = "empirical"
	MCDistNormal    = "normal"
	MCDistLognormal = "lognormal"
	MCDistResiduals = "residuals"

	MCStatMean       = "mean"
	MCStatPercentile = "percentile"

	MCHorizonAuto   = "auto"
	MCHorizonCustom = "custom"
)

// QuantileLevels are the per-day percentile vectors the Monte Carlo path
// always produces.
var QuantileLevels = []int{50, 80, 90, 95}

// MCParams configures a Monte Carlo forecast. Given identical inputs and
// seed, the output is bit-identical.
type MCParams struct {
	Distribution      string  `json:"distribution"`
	NSimulations      int     `json:"n_simulations"`
	RandomSeed        int64   `json:"random_seed"`
	OutputStat        string  `json:"output_stat"`
	OutputPercentile  int     `json:"output_percentile"`
	HorizonMode       string  `json:"horizon_mode"`
	HorizonDays       int     `json:"horizon_days"`
	ExpectedWasteRate float64 `json:"expected_waste_rate"`
}

// Validate checks the enumerated fields.
func (p MCParams) Validate() error {
	switch p.Distribution {
	case MCDistEmpirical, MCDistNormal, MCDistLognormal, MCDistResiduals:
	default:
		return fmt.Errorf("unknown mc distribution %q: %w", p.Distribution, domain.ErrInvalidInput)
	}
	if p.NSimulations <= 0 {
		return fmt.Errorf("n_simulations must be positive: %w", domain.ErrInvalidInput)
	}
	if p.RandomSeed < 0 {
		return fmt.Errorf("random_seed must be non-negative: %w", domain.ErrInvalidInput)
	}
	switch p.OutputStat {
	case MCStatMean:
	case MCStatPercentile:
		if p.OutputPercentile < 1 || p.OutputPercentile > 99 {
			return fmt.Errorf("output_percentile %d outside [1,99]: %w", p.OutputPercentile, domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown mc output_stat %q: %w", p.OutputStat, domain.ErrInvalidInput)
	}
	switch p.HorizonMode {
	case MCHorizonAuto:
	case MCHorizonCustom:
		if p.HorizonDays <= 0 {
			return fmt.Errorf("horizon_days must be positive: %w", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown mc horizon_mode %q: %w", p.HorizonMode, domain.ErrInvalidInput)
	}
	if p.ExpectedWasteRate < 0 || p.ExpectedWasteRate > 1 {
		return fmt.Errorf("expected_waste_rate %.3f outside [0,1]: %w", p.ExpectedWasteRate, domain.ErrInvalidInput)
	}
	return nil
}

// ResolveHorizon returns the simulation horizon: the custom day count, or
// the caller-supplied automatic horizon.
func (p MCParams) ResolveHorizon(autoDays int) int {
	if p.HorizonMode == MCHorizonCustom {
		return p.HorizonDays
	}
	if autoDays > 0 {
		return autoDays
	}
	return p.HorizonDays
}

// MCResult is a per-day forecast vector plus per-day percentile vectors.
type MCResult struct {
	Daily            []float64         `json:"daily"`
	DailyPercentiles map[int][]float64 `json:"daily_percentiles"`
}

// HorizonTotal sums the daily vector.
func (r MCResult) HorizonTotal() float64 {
	total := 0.0
	for _, v := range r.Daily {
		total += v
	}
	return total
}

// PercentileTotal sums one per-day percentile vector across the horizon.
func (r MCResult) PercentileTotal(p int) float64 {
	total := 0.0
	for _, v := range r.DailyPercentiles[p] {
		total += v
	}
	return total
}

// MonteCarloForecast simulates daily demand over horizon days starting the
// day after asof. censored flags filter the sampling history.
func MonteCarloForecast(history []Point, censored []bool, params MCParams, asof time.Time, horizon int) (MCResult, error) {
	if err := params.Validate(); err != nil {
		return MCResult{}, err
	}
	if horizon <= 0 {
		return MCResult{}, fmt.Errorf("horizon must be positive: %w", domain.ErrInvalidInput)
	}

	filtered := make([]Point, 0, len(history))
	for i, p := range history {
		if i < len(censored) && censored[i] {
			continue
		}
		filtered = append(filtered, p)
	}
	if len(filtered) == 0 {
		return MCResult{
			Daily:            make([]float64, horizon),
			DailyPercentiles: emptyPercentiles(horizon),
		}, nil
	}

	baseline := FitEMADOW(filtered, nil, 0.3, 0)
	sampler, err := newSampler(params.Distribution, filtered, baseline)
	if err != nil {
		return MCResult{}, err
	}

	rng := rand.New(rand.NewSource(params.RandomSeed))
	// sims[day][sim]
	sims := make([][]float64, horizon)
	for d := range sims {
		sims[d] = make([]float64, params.NSimulations)
	}
	for s := 0; s < params.NSimulations; s++ {
		for d := 0; d < horizon; d++ {
			date := asof.AddDate(0, 0, d+1)
			sims[d][s] = math.Max(0, sampler(rng, date))
		}
	}

	deflate := 1 - params.ExpectedWasteRate
	result := MCResult{
		Daily:            make([]float64, horizon),
		DailyPercentiles: make(map[int][]float64, len(QuantileLevels)),
	}
	for _, q := range QuantileLevels {
		result.DailyPercentiles[q] = make([]float64, horizon)
	}
	for d := 0; d < horizon; d++ {
		sort.Float64s(sims[d])
		switch params.OutputStat {
		case MCStatPercentile:
			result.Daily[d] = percentileSorted(sims[d], float64(params.OutputPercentile)) * deflate
		default:
			result.Daily[d] = mean(sims[d]) * deflate
		}
		for _, q := range QuantileLevels {
			result.DailyPercentiles[q][d] = percentileSorted(sims[d], float64(q)) * deflate
		}
	}
	return result, nil
}

type sampleFunc func(rng *rand.Rand, date time.Time) float64

func newSampler(distribution string, history []Point, baseline EMADOWModel) (sampleFunc, error) {
	values := make([]float64, len(history))
	for i, p := range history {
		values[i] = p.Qty
	}

	switch distribution {
	case MCDistEmpirical:
		return func(rng *rand.Rand, _ time.Time) float64 {
			return values[rng.Intn(len(values))]
		}, nil

	case MCDistNormal:
		mu, sigma := mean(values), stdDev(values)
		return func(rng *rand.Rand, _ time.Time) float64 {
			return mu + sigma*rng.NormFloat64()
		}, nil

	case MCDistLognormal:
		var logs []float64
		for _, v := range values {
			if v > 0 {
				logs = append(logs, math.Log(v))
			}
		}
		if len(logs) == 0 {
			// All-zero history degenerates to zero demand.
			return func(*rand.Rand, time.Time) float64 { return 0 }, nil
		}
		mu, sigma := mean(logs), stdDev(logs)
		return func(rng *rand.Rand, _ time.Time) float64 {
			return math.Exp(mu + sigma*rng.NormFloat64())
		}, nil

	case MCDistResiduals:
		residuals := make([]float64, len(history))
		for i, p := range history {
			residuals[i] = p.Qty - baseline.Predict(p.Date)
		}
		return func(rng *rand.Rand, date time.Time) float64 {
			return baseline.Predict(date) + residuals[rng.Intn(len(residuals))]
		}, nil

	default:
		return nil, fmt.Errorf("unknown mc distribution %q: %w", distribution, domain.ErrInvalidInput)
	}
}

// percentileSorted reads the p-th percentile from an ascending slice using
// linear interpolation between ranks.
func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func emptyPercentiles(horizon int) map[int][]float64 {
	m := make(map[int][]float64, len(QuantileLevels))
	for _, q := range QuantileLevels {
		m[q] = make([]float64, horizon)
	}
	return m
}
