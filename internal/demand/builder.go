package demand

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/forecast"
)

// Forecast method tags accepted by the builder.
const (
	MethodSimple           = "simple"
	MethodMonteCarlo       = "monte_carlo"
	MethodCroston          = forecast.MethodCroston
	MethodSBA              = forecast.MethodSBA
	MethodTSB              = forecast.MethodTSB
	MethodIntermittentAuto = "intermittent_auto"
)

// Request carries everything the builder needs for one SKU.
type Request struct {
	Method            string
	History           []forecast.Point // oldest first, contiguous days
	ProtectionDays    int
	AsOf              time.Time
	Censored          []bool // parallel to History, may be nil
	MCParams          *forecast.MCParams
	ExpectedWasteRate float64
}

// Distribution is the immutable demand summary consumed by policy code.
type Distribution struct {
	MuP            float64 `json:"mu_p"`
	SigmaP         float64 `json:"sigma_p"`
	ProtectionDays int     `json:"protection_period_days"`
	ForecastMethod string  `json:"forecast_method"`
	NSamples       int     `json:"n_samples"`
	NCensored      int     `json:"n_censored"`

	// Quantiles holds horizon totals for p50/p80/p90/p95; Monte Carlo only.
	Quantiles map[int]float64 `json:"quantiles,omitempty"`

	// Intermittent-only fields.
	IntermittentMethod         string  `json:"intermittent_method,omitempty"`
	IntermittentClassification bool    `json:"intermittent_classification,omitempty"`
	ADI                        float64 `json:"adi,omitempty"`
	CV2                        float64 `json:"cv2,omitempty"`
	BT                         float64 `json:"b_t,omitempty"`
}

// Builder is the sole entry point for policy code needing a demand
// distribution. It holds process configuration so no global is read at call
// time.
type Builder struct {
	alphaBase    float64
	alphaBoost   float64
	windowWeeks  int
	intermittent forecast.IntermittentConfig
}

// NewBuilder constructs a builder from the forecast configuration.
func NewBuilder(cfg config.ForecastConfig) *Builder {
	windowWeeks := cfg.WindowWeeks
	if windowWeeks <= 0 {
		windowWeeks = 12
	}
	alphaBase := cfg.AlphaBase
	if alphaBase <= 0 {
		alphaBase = 0.3
	}
	return &Builder{
		alphaBase:    alphaBase,
		alphaBoost:   cfg.AlphaBoost,
		windowWeeks:  windowWeeks,
		intermittent: forecast.DefaultIntermittentConfig(),
	}
}

// Build dispatches on the requested method and returns the distribution.
// Unknown methods fall back to simple with a warning; the tag then reports
// what actually ran.
func (b *Builder) Build(req Request) Distribution {
	if req.ProtectionDays <= 0 || len(req.History) == 0 {
		return Distribution{
			ProtectionDays: req.ProtectionDays,
			ForecastMethod: req.Method,
			NCensored:      countCensored(req.Censored),
		}
	}

	switch req.Method {
	case MethodSimple:
		return b.buildSimple(req)
	case MethodMonteCarlo:
		return b.buildMonteCarlo(req)
	case MethodCroston, MethodSBA, MethodTSB, MethodIntermittentAuto:
		return b.buildIntermittent(req)
	default:
		log.Warn().Str("method", req.Method).Msg("unknown forecast method, falling back to simple")
		fallback := req
		fallback.Method = MethodSimple
		return b.buildSimple(fallback)
	}
}

func (b *Builder) buildSimple(req Request) Distribution {
	model := forecast.FitEMADOW(req.History, req.Censored, b.alphaBase, b.alphaBoost)
	d := Distribution{
		ProtectionDays: req.ProtectionDays,
		ForecastMethod: MethodSimple,
		NSamples:       model.NSamples,
		NCensored:      model.NCensored,
	}
	d.MuP = model.PredictHorizon(req.AsOf, req.ProtectionDays) * (1 - req.ExpectedWasteRate)
	d.SigmaP = b.rollingSigma(req, b.emaTrainer())
	return d
}

func (b *Builder) buildMonteCarlo(req Request) Distribution {
	params := b.mcParams(req)
	horizon := params.ResolveHorizon(req.ProtectionDays)
	if horizon > req.ProtectionDays {
		horizon = req.ProtectionDays
	}
	model := forecast.FitEMADOW(req.History, req.Censored, b.alphaBase, b.alphaBoost)
	d := Distribution{
		ProtectionDays: req.ProtectionDays,
		ForecastMethod: MethodMonteCarlo,
		NSamples:       model.NSamples,
		NCensored:      model.NCensored,
	}

	res, err := forecast.MonteCarloForecast(req.History, req.Censored, params, req.AsOf, horizon)
	if err != nil {
		log.Warn().Err(err).Msg("monte carlo forecast failed, falling back to simple")
		fallback := req
		fallback.Method = MethodSimple
		return b.buildSimple(fallback)
	}

	d.MuP = res.HorizonTotal()
	d.Quantiles = make(map[int]float64, len(forecast.QuantileLevels))
	for _, q := range forecast.QuantileLevels {
		d.Quantiles[q] = res.PercentileTotal(q)
	}
	// Safety stock must cover out-of-sample forecast error, not the spread
	// across simulations, so sigma comes from rolling residuals of the
	// baseline model.
	d.SigmaP = b.rollingSigma(req, b.emaTrainer())
	return d
}

func (b *Builder) buildIntermittent(req Request) Distribution {
	series := make([]float64, len(req.History))
	for i, p := range req.History {
		series[i] = p.Qty
	}

	d := Distribution{
		ProtectionDays: req.ProtectionDays,
		ForecastMethod: req.Method,
		NSamples:       len(series) - countCensored(req.Censored),
		NCensored:      countCensored(req.Censored),
	}

	var perDay, zT, bT float64
	switch req.Method {
	case MethodCroston:
		perDay, zT, _ = forecast.Croston(series, b.intermittent.Alpha)
		d.IntermittentMethod = MethodCroston
	case MethodSBA:
		perDay, zT, _ = forecast.SBA(series, b.intermittent.Alpha)
		d.IntermittentMethod = MethodSBA
	case MethodTSB:
		perDay, zT, bT = forecast.TSB(series, b.intermittent.Alpha, b.intermittent.TSBBeta)
		d.IntermittentMethod = MethodTSB
		d.BT = bT
	default: // intermittent_auto
		auto := forecast.IntermittentAuto(series, b.intermittent)
		perDay, zT = auto.Forecast, auto.Z
		d.IntermittentMethod = auto.Method
		d.IntermittentClassification = auto.Classification.Intermittent
		d.ADI = auto.Classification.ADI
		d.CV2 = auto.Classification.CV2
		if auto.Method == MethodTSB {
			d.BT = auto.B
		}
	}

	d.MuP = perDay * float64(req.ProtectionDays) * (1 - req.ExpectedWasteRate)
	d.SigmaP = b.aggregatedSigma(req, b.intermittentTrainer(d.IntermittentMethod))
	if d.SigmaP == 0 {
		// Insufficient residual history: conservative z_t-based fallback.
		d.SigmaP = forecast.SigmaOverHorizon(zT, req.ProtectionDays)
	}
	if req.Method != MethodIntermittentAuto {
		c := forecast.Classify(series, b.intermittent.ADIThreshold, b.intermittent.CV2Threshold)
		d.ADI = c.ADI
		d.CV2 = c.CV2
		d.IntermittentClassification = c.Intermittent
	}
	return d
}

// rollingSigma estimates the horizon sigma from one-step-ahead residuals of
// the given trainer, scaled by the square root of the horizon.
func (b *Builder) rollingSigma(req Request, trainer forecast.Trainer) float64 {
	residuals := forecast.RollingResiduals(req.History, req.Censored, b.residualWindow(req), trainer)
	if len(residuals) < 3 {
		return 0
	}
	return forecast.SigmaOverHorizon(forecast.MADSigma(residuals), req.ProtectionDays)
}

// aggregatedSigma estimates the horizon sigma from residuals computed on
// protection-period sums, so sparse demand series are measured at the scale
// safety stock must cover. The result needs no horizon scaling.
func (b *Builder) aggregatedSigma(req Request, trainer forecast.Trainer) float64 {
	residuals := forecast.AggregatedResiduals(req.History, req.Censored,
		b.residualWindow(req), req.ProtectionDays, trainer)
	if len(residuals) < 3 {
		return 0
	}
	return forecast.MADSigma(residuals)
}

func (b *Builder) residualWindow(req Request) int {
	window := b.windowWeeks * 7
	// Leave at least a third of the history for residual evaluation.
	if max := (len(req.History) * 2) / 3; window > max {
		window = max
	}
	if window < 7 {
		window = 7
	}
	return window
}

func (b *Builder) emaTrainer() forecast.Trainer {
	return func(train []forecast.Point) forecast.Predictor {
		m := forecast.FitEMADOW(train, nil, b.alphaBase, 0)
		return m.Predict
	}
}

func (b *Builder) intermittentTrainer(method string) forecast.Trainer {
	cfg := b.intermittent
	return func(train []forecast.Point) forecast.Predictor {
		series := make([]float64, len(train))
		for i, p := range train {
			series[i] = p.Qty
		}
		var perDay float64
		switch method {
		case forecast.MethodCroston:
			perDay, _, _ = forecast.Croston(series, cfg.Alpha)
		case forecast.MethodTSB:
			perDay, _, _ = forecast.TSB(series, cfg.Alpha, cfg.TSBBeta)
		default:
			perDay, _, _ = forecast.SBA(series, cfg.Alpha)
		}
		return func(time.Time) float64 { return perDay }
	}
}

func (b *Builder) mcParams(req Request) forecast.MCParams {
	if req.MCParams != nil {
		p := *req.MCParams
		if req.ExpectedWasteRate > 0 && p.ExpectedWasteRate == 0 {
			p.ExpectedWasteRate = req.ExpectedWasteRate
		}
		return p
	}
	return forecast.MCParams{
		Distribution:      forecast.MCDistEmpirical,
		NSimulations:      500,
		RandomSeed:        42,
		OutputStat:        forecast.MCStatMean,
		HorizonMode:       forecast.MCHorizonAuto,
		ExpectedWasteRate: req.ExpectedWasteRate,
	}
}

func countCensored(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
