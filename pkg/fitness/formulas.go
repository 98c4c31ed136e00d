package fitness

import (
	"math"

	"github.com/cinar/indicator/v2/trend"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// SharpeScale annualizes a daily Sharpe ratio (sqrt of 252 trading days).
	SharpeScale = 15.8745078664

	// SortinoCap is returned when a series has no losing days.
	SortinoCap = math.MaxFloat64 / 2

	// EMAPeriod is the smoothing window of the EMA-Sharpe metric.
	EMAPeriod = 50
)

// Sharpe returns mean/stdev × SharpeScale using the population standard
// deviation. A flat series uses a stdev of 1.
func Sharpe(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(series, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	return mean / std * SharpeScale
}

// Sortino returns mean over the stdev of the losing days. A series with no
// losing days returns SortinoCap; a single loss, or identical losses, fall
// back to a stdev of 1.
func Sortino(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}

	var negative []float64
	for _, v := range series {
		if v < 0 {
			negative = append(negative, v)
		}
	}
	if len(negative) == 0 {
		return SortinoCap
	}

	std := stat.PopStdDev(negative, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	return stat.Mean(series, nil) / std
}

// Linearity returns 1/stdev; a flat series is perfectly linear (+Inf).
func Linearity(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	std := stat.PopStdDev(series, nil)
	if std == 0 || math.IsNaN(std) {
		return math.Inf(1)
	}
	return 1 / std
}

// RSquared fits the cumulative series against the day ordinal and returns
// the coefficient of determination. Fewer than two days or a flat cumulative
// curve return 0.
func RSquared(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}

	x := make([]float64, len(series))
	y := Cumulative(series)
	for i := range x {
		x[i] = float64(i)
	}

	if stat.PopVariance(y, nil) == 0 {
		return 0
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	r2 := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0
	}
	return r2
}

// Drawdown tracks the running loss since the last high-water mark and
// returns the magnitude of the worst one.
func Drawdown(series []float64) float64 {
	running, worst := 0.0, 0.0
	for _, v := range series {
		running = math.Min(0, running+v)
		worst = math.Min(worst, running)
	}
	return -worst
}

// MaxDrawdown is Drawdown, except that a series which never draws down
// returns 1 so ratio objectives can divide by it.
func MaxDrawdown(series []float64) float64 {
	if dd := Drawdown(series); dd > 0 {
		return dd
	}
	return 1
}

// EMASharpe smooths the series with an EMAPeriod-day EMA (shortened to the
// series length when needed) and returns the Sharpe of the smoothed values.
func EMASharpe(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return Sharpe(EMA(series, EMAPeriod))
}

// EMA returns the exponential moving average of series. The first output
// corresponds to input index period-1.
func EMA(series []float64, period int) []float64 {
	if period > len(series) {
		period = len(series)
	}
	if period < 1 {
		return nil
	}

	input := make(chan float64, len(series))
	for _, v := range series {
		input <- v
	}
	close(input)

	ema := trend.NewEmaWithPeriod[float64](period)
	var out []float64
	for v := range ema.Compute(input) {
		out = append(out, v)
	}
	return out
}

// MaxProfit is the sum of the series.
func MaxProfit(series []float64) float64 {
	return floats.Sum(series)
}

// ProfitByDrawdown is MaxProfit / MaxDrawdown.
func ProfitByDrawdown(series []float64) float64 {
	return MaxProfit(series) / MaxDrawdown(series)
}

// Cumulative returns the running sum of series.
func Cumulative(series []float64) []float64 {
	return floats.CumSum(make([]float64, len(series)), series)
}
