package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names, grounded on the teacher's pkg/telemetry/metrics.go naming
// convention (prefix + domain noun), renamed to the grid/PnL domain.
const (
	MetricPnLSessionTotal  = "gridbot_pnl_session_total"
	MetricPnLGlobalTotal   = "gridbot_pnl_global_total"
	MetricOrdersResting    = "gridbot_orders_resting"
	MetricOrdersPlaced     = "gridbot_orders_placed_total"
	MetricOrdersFilled     = "gridbot_orders_filled_total"
	MetricTradesProcessed  = "gridbot_trades_processed_total"
	MetricCycleLatencyMS   = "gridbot_reconcile_cycle_latency_ms"
	MetricVenueErrorsTotal = "gridbot_venue_errors_total"
	MetricRateLimitCooldown = "gridbot_rate_limit_cooldown"
)

// MetricsHolder holds initialized instruments for one process.
type MetricsHolder struct {
	PnLSessionTotal  metric.Float64ObservableGauge
	PnLGlobalTotal   metric.Float64ObservableGauge
	OrdersResting    metric.Int64ObservableGauge
	OrdersPlaced     metric.Int64Counter
	OrdersFilled     metric.Int64Counter
	TradesProcessed  metric.Int64Counter
	CycleLatencyMS   metric.Float64Histogram
	VenueErrorsTotal metric.Int64Counter
	RateLimitCooldown metric.Int64ObservableGauge

	mu             sync.RWMutex
	sessionPnLMap  map[string]float64
	globalPnLMap   map[string]float64
	restingMap     map[string]int64
	cooldownMap    map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide metrics singleton.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			sessionPnLMap: make(map[string]float64),
			globalPnLMap:  make(map[string]float64),
			restingMap:    make(map[string]int64),
			cooldownMap:   make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics registers every instrument against the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.OrdersPlaced, err = meter.Int64Counter(MetricOrdersPlaced, metric.WithDescription("total limit/market orders placed")); err != nil {
		return err
	}
	if m.OrdersFilled, err = meter.Int64Counter(MetricOrdersFilled, metric.WithDescription("total fills observed")); err != nil {
		return err
	}
	if m.TradesProcessed, err = meter.Int64Counter(MetricTradesProcessed, metric.WithDescription("total venue trades ingested")); err != nil {
		return err
	}
	if m.VenueErrorsTotal, err = meter.Int64Counter(MetricVenueErrorsTotal, metric.WithDescription("total classified venue call errors")); err != nil {
		return err
	}
	if m.CycleLatencyMS, err = meter.Float64Histogram(MetricCycleLatencyMS, metric.WithDescription("reconciliation cycle duration"), metric.WithUnit("ms")); err != nil {
		return err
	}

	if m.PnLSessionTotal, err = meter.Float64ObservableGauge(MetricPnLSessionTotal, metric.WithDescription("live session PnL per symbol"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.sessionPnLMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.PnLGlobalTotal, err = meter.Float64ObservableGauge(MetricPnLGlobalTotal, metric.WithDescription("archived + live PnL per symbol"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.globalPnLMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.OrdersResting, err = meter.Int64ObservableGauge(MetricOrdersResting, metric.WithDescription("resting order count per symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.restingMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.RateLimitCooldown, err = meter.Int64ObservableGauge(MetricRateLimitCooldown, metric.WithDescription("1 while a venue's circuit breaker is cooling down"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, v := range m.cooldownMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		})); err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) SetSessionPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionPnLMap[symbol] = value
}

func (m *MetricsHolder) SetGlobalPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalPnLMap[symbol] = value
}

func (m *MetricsHolder) SetRestingOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restingMap[symbol] = count
}

func (m *MetricsHolder) SetRateLimitCooldown(venue string, active bool) {
	val := int64(0)
	if active {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldownMap[venue] = val
}
