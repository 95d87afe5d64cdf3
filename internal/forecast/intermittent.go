package forecast

import "math"

// Intermittent method tags.
const (
	MethodCroston = "croston"
	MethodSBA     = "sba"
	MethodTSB     = "tsb"
)

// Default thresholds for the Syntetos-Boylan classification scheme and the
// declining-demand heuristic.
const (
	DefaultADIThreshold = 1.32
	DefaultCV2Threshold = 0.49
	decliningRatio      = 0.70
)

// IntermittentConfig tunes the intermittent-demand estimators.
type IntermittentConfig struct {
	Alpha           float64 // smoothing for sizes and intervals
	TSBBeta         float64 // probability smoothing for TSB
	ADIThreshold    float64
	CV2Threshold    float64
	BacktestPeriods int    // test periods for the SBA/TSB backtest
	DefaultMethod   string // fallback when the backtest is unreliable
	DecliningWindow int    // window length for the declining-demand check
}

// DefaultIntermittentConfig mirrors the engine defaults.
func DefaultIntermittentConfig() IntermittentConfig {
	return IntermittentConfig{
		Alpha:           0.1,
		TSBBeta:         0.1,
		ADIThreshold:    DefaultADIThreshold,
		CV2Threshold:    DefaultCV2Threshold,
		BacktestPeriods: 14,
		DefaultMethod:   MethodSBA,
		DecliningWindow: 14,
	}
}

// Classification summarizes a demand series' intermittency.
type Classification struct {
	ADI          float64 `json:"adi"`
	CV2          float64 `json:"cv2"`
	Intermittent bool    `json:"intermittent"`
}

// Classify computes ADI (mean inter-demand interval) and CV^2 of non-zero
// demand sizes. A series is intermittent when both thresholds are exceeded.
func Classify(demand []float64, adiThreshold, cv2Threshold float64) Classification {
	var nonzero []float64
	for _, d := range demand {
		if d > 0 {
			nonzero = append(nonzero, d)
		}
	}
	if len(nonzero) == 0 {
		return Classification{ADI: math.Inf(1)}
	}
	c := Classification{
		ADI: float64(len(demand)) / float64(len(nonzero)),
	}
	m := mean(nonzero)
	if m > 0 {
		sd := stdDev(nonzero)
		c.CV2 = (sd / m) * (sd / m)
	}
	c.Intermittent = c.ADI > adiThreshold && c.CV2 > cv2Threshold
	return c
}

// Croston estimates intermittent demand per period by separately smoothing
// non-zero demand sizes (z) and inter-demand intervals (p). The per-period
// forecast is z/p.
func Croston(demand []float64, alpha float64) (forecast, z, p float64) {
	initialized := false
	interval := 1.0
	for _, d := range demand {
		if d > 0 {
			if !initialized {
				z = d
				p = interval
				initialized = true
			} else {
				z = alpha*d + (1-alpha)*z
				p = alpha*interval + (1-alpha)*p
			}
			interval = 1
		} else {
			interval++
		}
	}
	if !initialized || p == 0 {
		return 0, 0, 0
	}
	return z / p, z, p
}

// SBA applies the Syntetos-Boylan approximation, debiasing Croston by
// (1 - alpha/2).
func SBA(demand []float64, alpha float64) (forecast, z, p float64) {
	cr, z, p := Croston(demand, alpha)
	return (1 - alpha/2) * cr, z, p
}

// TSB (Teunter-Syntetos-Babai) smooths the demand probability b every
// period and the demand size z on occurrence. The per-period forecast is
// b*z. Unlike Croston, TSB decays toward zero through runs of zero demand,
// which suits obsolescence.
func TSB(demand []float64, alpha, beta float64) (forecast, z, b float64) {
	initialized := false
	for _, d := range demand {
		if !initialized {
			if d > 0 {
				z = d
				b = 1
				initialized = true
			}
			continue
		}
		if d > 0 {
			b = beta + (1-beta)*b
			z = alpha*d + (1-alpha)*z
		} else {
			b = (1 - beta) * b
		}
	}
	return b * z, z, b
}

// AutoResult is the outcome of the intermittent_auto selection.
type AutoResult struct {
	Method         string         `json:"method"`
	Forecast       float64        `json:"forecast"` // per period
	Z              float64        `json:"z"`
	P              float64        `json:"p"`
	B              float64        `json:"b"` // TSB only
	Classification Classification `json:"classification"`
	BacktestWMAPE  float64        `json:"backtest_wmape"`
	Declining      bool           `json:"declining"`
}

// IntermittentAuto classifies the series, then picks between SBA and TSB by
// one-step backtest WMAPE over the last BacktestPeriods periods. A declining
// demand pattern (recent window mean below 70% of the older window mean)
// short-circuits to TSB. When the backtest is unreliable the configured
// default wins.
func IntermittentAuto(demand []float64, cfg IntermittentConfig) AutoResult {
	result := AutoResult{
		Classification: Classify(demand, cfg.ADIThreshold, cfg.CV2Threshold),
	}

	if isDeclining(demand, cfg.DecliningWindow) {
		result.Declining = true
		result.Method = MethodTSB
		result.Forecast, result.Z, result.B = TSB(demand, cfg.Alpha, cfg.TSBBeta)
		return result
	}

	sbaErr, sbaOK := backtestWMAPE(demand, cfg.BacktestPeriods, func(train []float64) float64 {
		f, _, _ := SBA(train, cfg.Alpha)
		return f
	})
	tsbErr, tsbOK := backtestWMAPE(demand, cfg.BacktestPeriods, func(train []float64) float64 {
		f, _, _ := TSB(train, cfg.Alpha, cfg.TSBBeta)
		return f
	})

	switch {
	case sbaOK && tsbOK && tsbErr < sbaErr:
		result.Method = MethodTSB
		result.BacktestWMAPE = tsbErr
	case sbaOK && tsbOK:
		result.Method = MethodSBA
		result.BacktestWMAPE = sbaErr
	default:
		result.Method = cfg.DefaultMethod
	}

	switch result.Method {
	case MethodTSB:
		result.Forecast, result.Z, result.B = TSB(demand, cfg.Alpha, cfg.TSBBeta)
	case MethodCroston:
		result.Forecast, result.Z, result.P = Croston(demand, cfg.Alpha)
	default:
		result.Forecast, result.Z, result.P = SBA(demand, cfg.Alpha)
	}
	return result
}

// isDeclining compares the mean of the most recent window against the
// window before it.
func isDeclining(demand []float64, window int) bool {
	if window <= 0 || len(demand) < 2*window {
		return false
	}
	recent := mean(demand[len(demand)-window:])
	older := mean(demand[len(demand)-2*window : len(demand)-window])
	return older > 0 && recent < decliningRatio*older
}

// backtestWMAPE runs one-step-ahead forecasts over the last k periods and
// returns sum|err| / sum(actual). ok is false when the test span has no
// demand or too little history to train on.
func backtestWMAPE(demand []float64, k int, forecast func(train []float64) float64) (float64, bool) {
	if k <= 0 || len(demand) <= k+1 {
		return 0, false
	}
	sumErr, sumActual := 0.0, 0.0
	for i := len(demand) - k; i < len(demand); i++ {
		pred := forecast(demand[:i])
		sumErr += math.Abs(demand[i] - pred)
		sumActual += demand[i]
	}
	if sumActual == 0 {
		return 0, false
	}
	return sumErr / sumActual, true
}
