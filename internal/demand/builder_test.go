package demand

import (
	"math/rand"
	"testing"
	"time"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/forecast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuilder() *Builder {
	return NewBuilder(config.ForecastConfig{
		OOSLookbackDays: 30,
		WindowWeeks:     4,
		AlphaBase:       0.3,
		AlphaBoost:      0.2,
	})
}

func points(start time.Time, qtys ...float64) []forecast.Point {
	pts := make([]forecast.Point, len(qtys))
	for i, q := range qtys {
		pts[i] = forecast.Point{Date: start.AddDate(0, 0, i), Qty: q}
	}
	return pts
}

func steadyHistory(start time.Time, days int, qty float64) []forecast.Point {
	qtys := make([]float64, days)
	for i := range qtys {
		qtys[i] = qty
	}
	return points(start, qtys...)
}

func TestZeroDistributionOnEmptyInputs(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)

	d := b.Build(Request{Method: MethodSimple, ProtectionDays: 0, History: steadyHistory(start, 30, 10)})
	assert.Equal(t, 0.0, d.MuP)
	assert.Equal(t, 0.0, d.SigmaP)
	assert.Equal(t, MethodSimple, d.ForecastMethod)

	d = b.Build(Request{Method: MethodMonteCarlo, ProtectionDays: 7})
	assert.Equal(t, 0.0, d.MuP)
	assert.Equal(t, MethodMonteCarlo, d.ForecastMethod)
	assert.Equal(t, 7, d.ProtectionDays)
}

func TestSimpleMethod(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	h := steadyHistory(start, 60, 12)

	d := b.Build(Request{
		Method:         MethodSimple,
		History:        h,
		ProtectionDays: 7,
		AsOf:           start.AddDate(0, 0, 60),
	})
	assert.Equal(t, MethodSimple, d.ForecastMethod)
	assert.InDelta(t, 12*7, d.MuP, 1.0)
	assert.GreaterOrEqual(t, d.SigmaP, 0.0)
	assert.Equal(t, 60, d.NSamples)
	assert.Nil(t, d.Quantiles)
}

// Censored stockout days are excluded from training, so the level holds.
func TestCensoredDayExclusion(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	qtys := []float64{15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 0, 0, 0}
	censored := []bool{false, false, false, false, false, false, false, false, false, false, true, true, true}

	d := b.Build(Request{
		Method:         MethodSimple,
		History:        points(start, qtys...),
		Censored:       censored,
		ProtectionDays: 7,
		AsOf:           start.AddDate(0, 0, 13),
	})
	assert.Equal(t, 3, d.NCensored)
	assert.Equal(t, 10, d.NSamples)
	assert.InDelta(t, 15*7, d.MuP, 7.0)

	uncensored := b.Build(Request{
		Method:         MethodSimple,
		History:        points(start, qtys...),
		ProtectionDays: 7,
		AsOf:           start.AddDate(0, 0, 13),
	})
	assert.Less(t, uncensored.MuP, d.MuP/2)
}

func TestMonteCarloMethodQuantiles(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	rng := rand.New(rand.NewSource(11))
	qtys := make([]float64, 90)
	for i := range qtys {
		qtys[i] = float64(5 + rng.Intn(10))
	}

	mc := &forecast.MCParams{
		Distribution: forecast.MCDistEmpirical,
		NSimulations: 300,
		RandomSeed:   42,
		OutputStat:   forecast.MCStatMean,
		HorizonMode:  forecast.MCHorizonAuto,
	}
	d := b.Build(Request{
		Method:         MethodMonteCarlo,
		History:        points(start, qtys...),
		ProtectionDays: 14,
		AsOf:           start.AddDate(0, 0, 90),
		MCParams:       mc,
	})

	assert.Equal(t, MethodMonteCarlo, d.ForecastMethod)
	assert.Greater(t, d.MuP, 0.0)
	assert.Greater(t, d.SigmaP, 0.0)
	require.NotNil(t, d.Quantiles)
	assert.LessOrEqual(t, d.Quantiles[50], d.Quantiles[80])
	assert.LessOrEqual(t, d.Quantiles[80], d.Quantiles[90])
	assert.LessOrEqual(t, d.Quantiles[90], d.Quantiles[95])
}

func TestMonteCarloDeterministicThroughBuilder(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	h := steadyHistory(start, 60, 9)
	req := Request{
		Method:         MethodMonteCarlo,
		History:        h,
		ProtectionDays: 7,
		AsOf:           start.AddDate(0, 0, 60),
		MCParams: &forecast.MCParams{
			Distribution: forecast.MCDistNormal,
			NSimulations: 250,
			RandomSeed:   7,
			OutputStat:   forecast.MCStatMean,
			HorizonMode:  forecast.MCHorizonAuto,
		},
	}

	assert.Equal(t, b.Build(req), b.Build(req))
}

// Intermittent history routed through intermittent_auto classifies and
// selects a sub-method.
func TestIntermittentAutoDispatch(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	rng := rand.New(rand.NewSource(3))
	qtys := make([]float64, 90)
	for i := range qtys {
		if rng.Float64() < 0.3 {
			qtys[i] = float64(1 + 29*rng.Intn(2))
		}
	}

	d := b.Build(Request{
		Method:         MethodIntermittentAuto,
		History:        points(start, qtys...),
		ProtectionDays: 14,
		AsOf:           start.AddDate(0, 0, 90),
	})

	assert.Equal(t, MethodIntermittentAuto, d.ForecastMethod)
	assert.True(t, d.IntermittentClassification)
	assert.Greater(t, d.ADI, forecast.DefaultADIThreshold)
	assert.Greater(t, d.CV2, forecast.DefaultCV2Threshold)
	assert.Contains(t, []string{forecast.MethodSBA, forecast.MethodTSB, forecast.MethodCroston}, d.IntermittentMethod)
	assert.Greater(t, d.MuP, 0.0)
	assert.Greater(t, d.SigmaP, 0.0)
}

func TestExplicitTSBCarriesBt(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	qtys := make([]float64, 40)
	for i := 0; i < 40; i += 4 {
		qtys[i] = 8
	}

	d := b.Build(Request{
		Method:         MethodTSB,
		History:        points(start, qtys...),
		ProtectionDays: 7,
		AsOf:           start.AddDate(0, 0, 40),
	})
	assert.Equal(t, MethodTSB, d.ForecastMethod)
	assert.Equal(t, forecast.MethodTSB, d.IntermittentMethod)
	assert.Greater(t, d.BT, 0.0)
}

func TestUnknownMethodFallsBackToSimple(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)

	d := b.Build(Request{
		Method:         "prophet",
		History:        steadyHistory(start, 30, 10),
		ProtectionDays: 7,
		AsOf:           start.AddDate(0, 0, 30),
	})
	assert.Equal(t, MethodSimple, d.ForecastMethod)
	assert.Greater(t, d.MuP, 0.0)
}

func TestDistributionAlwaysNonNegative(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	methods := []string{MethodSimple, MethodMonteCarlo, MethodCroston, MethodSBA, MethodTSB, MethodIntermittentAuto}

	for _, m := range methods {
		d := b.Build(Request{
			Method:         m,
			History:        steadyHistory(start, 45, 6),
			ProtectionDays: 10,
			AsOf:           start.AddDate(0, 0, 45),
		})
		assert.GreaterOrEqual(t, d.MuP, 0.0, m)
		assert.GreaterOrEqual(t, d.SigmaP, 0.0, m)
	}
}

func TestExpectedWasteRateDeflatesMu(t *testing.T) {
	b := newBuilder()
	start := domain.Date(2026, time.January, 5)
	h := steadyHistory(start, 30, 10)

	base := b.Build(Request{Method: MethodSimple, History: h, ProtectionDays: 7, AsOf: start.AddDate(0, 0, 30)})
	deflated := b.Build(Request{Method: MethodSimple, History: h, ProtectionDays: 7, AsOf: start.AddDate(0, 0, 30), ExpectedWasteRate: 0.25})
	assert.InDelta(t, base.MuP*0.75, deflated.MuP, 1e-9)
}
