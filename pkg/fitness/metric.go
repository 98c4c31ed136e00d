// Package fitness scores allocation vectors against a PnL store.
//
// Every metric first reduces the store to one aggregate daily series,
// series[day] = Σ alloc[i] × pnl[i][day], then applies a series formula.
package fitness

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// Metric selects the objective an optimizer ranks candidates by.
type Metric string

const (
	MetricSharpe           Metric = "sharpe"
	MetricSortino          Metric = "sortino"
	MetricLinearity        Metric = "linearity"
	MetricRSquared         Metric = "r_squared"
	MetricEMASharpe        Metric = "ema_sharpe"
	MetricMaxProfit        Metric = "max_profit"
	MetricProfitByDrawdown Metric = "profit_drawdown"
	// MetricConstant is not an objective: it asks the per-strategy heuristic
	// to assign the maximum to every strategy.
	MetricConstant Metric = "constant"
)

// Metrics lists every selectable metric.
var Metrics = []Metric{
	MetricSharpe,
	MetricSortino,
	MetricLinearity,
	MetricRSquared,
	MetricEMASharpe,
	MetricMaxProfit,
	MetricProfitByDrawdown,
	MetricConstant,
}

// metricCodes maps the short operator codes to metrics.
var metricCodes = map[string]Metric{
	"SH": MetricSharpe,
	"SO": MetricSortino,
	"LI": MetricLinearity,
	"RS": MetricRSquared,
	"SE": MetricEMASharpe,
	"MP": MetricMaxProfit,
	"PD": MetricProfitByDrawdown,
	"CS": MetricConstant,
}

// ParseMetric accepts a metric name ("sharpe") or short code ("SH").
func ParseMetric(value string) (Metric, error) {
	v := strings.TrimSpace(value)
	if m, ok := metricCodes[strings.ToUpper(v)]; ok {
		return m, nil
	}
	for _, m := range Metrics {
		if strings.EqualFold(string(m), v) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown fitness metric %q", allocerr.ErrConfiguration, value)
}

// String implements fmt.Stringer
func (m Metric) String() string { return string(m) }

// IsObjective reports whether searches can rank candidates by this metric.
func (m Metric) IsObjective() bool {
	return m != MetricConstant && m.valid()
}

func (m Metric) valid() bool {
	for _, known := range Metrics {
		if m == known {
			return true
		}
	}
	return false
}

// Aggregate reduces the store to one daily series weighted by alloc.
func Aggregate(alloc []float64, store *timeseries.Store) ([]float64, error) {
	if store == nil || store.NumStrategies() == 0 || len(alloc) == 0 {
		return nil, fmt.Errorf("%w: no strategies", allocerr.ErrEmptyInput)
	}
	if store.IsEmpty() {
		return nil, fmt.Errorf("%w: no trading days", allocerr.ErrEmptyInput)
	}
	if len(alloc) != store.NumStrategies() {
		return nil, fmt.Errorf("%w: allocation has %d values for %d strategies",
			allocerr.ErrConfiguration, len(alloc), store.NumStrategies())
	}

	series := make([]float64, store.Len())
	for day := range series {
		row := store.Row(day).PnL
		sum := 0.0
		for i, qty := range alloc {
			sum += qty * row[i]
		}
		series[day] = sum
	}
	return series, nil
}

// Evaluate scores alloc against store with the selected metric. This is the
// only place metrics are dispatched.
func Evaluate(metric Metric, alloc []float64, store *timeseries.Store) (float64, error) {
	series, err := Aggregate(alloc, store)
	if err != nil {
		return 0, err
	}
	return EvaluateSeries(metric, series)
}

// EvaluateSeries scores an already aggregated daily series.
func EvaluateSeries(metric Metric, series []float64) (float64, error) {
	if len(series) == 0 {
		return 0, fmt.Errorf("%w: no trading days", allocerr.ErrEmptyInput)
	}

	switch metric {
	case MetricSharpe:
		return Sharpe(series), nil
	case MetricSortino:
		return Sortino(series), nil
	case MetricLinearity:
		return Linearity(series), nil
	case MetricRSquared:
		return RSquared(series), nil
	case MetricEMASharpe:
		return EMASharpe(series), nil
	case MetricMaxProfit:
		return MaxProfit(series), nil
	case MetricProfitByDrawdown:
		return ProfitByDrawdown(series), nil
	case MetricConstant:
		return 0, fmt.Errorf("%w: %s is not a search objective", allocerr.ErrNotImplemented, metric)
	default:
		return 0, fmt.Errorf("%w: unknown fitness metric %q", allocerr.ErrConfiguration, metric)
	}
}
