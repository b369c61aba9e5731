// Package metrics owns the prometheus registry for a service and the collectors recorded into it
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	CacheRefreshes     *prometheus.CounterVec // labels: cache, result (ok|error)
	Assignments        *prometheus.CounterVec // labels: method, outcome
	Predictions        *prometheus.CounterVec // labels: kind, source
	AvlReports         *prometheus.CounterVec // labels: result (accepted|invalid)
	AutoAssignDuration prometheus.Histogram
	TrackedVehicles    prometheus.Gauge
	HistoricalKeys     prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assigner_cache_refreshes_total",
			Help: "Background and forced cache refreshes by result.",
		}, []string{"cache", "result"}),
		Assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assigner_assignments_total",
			Help: "Assignment attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assigner_predictions_total",
			Help: "Duration predictions by kind and the predictor that produced them.",
		}, []string{"kind", "source"}),
		AvlReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assigner_avl_reports_total",
			Help: "AVL reports received.",
		}, []string{"result"}),
		AutoAssignDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assigner_auto_assign_duration_seconds",
			Help:    "Time spent evaluating candidate blocks for one vehicle.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TrackedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assigner_tracked_vehicles",
			Help: "Vehicles with assignment state.",
		}),
		HistoricalKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assigner_historical_average_keys",
			Help: "Keys held in the historical average store.",
		}),
	}

	reg.MustRegister(
		c.CacheRefreshes, c.Assignments, c.Predictions, c.AvlReports,
		c.AutoAssignDuration, c.TrackedVehicles, c.HistoricalKeys,
	)
	return c
}

// ObserveRefresh records the result of a cache refresh
func (c *Collector) ObserveRefresh(name string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.CacheRefreshes.WithLabelValues(name, result).Inc()
}

func (c *Collector) AssignmentResult(method string, outcome string) {
	c.Assignments.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) PredictionSource(kind string, source string) {
	c.Predictions.WithLabelValues(kind, source).Inc()
}

func (c *Collector) AvlReport(accepted bool) {
	if accepted {
		c.AvlReports.WithLabelValues("accepted").Inc()
		return
	}
	c.AvlReports.WithLabelValues("invalid").Inc()
}

func (c *Collector) ObserveAutoAssign(d time.Duration) {
	c.AutoAssignDuration.Observe(d.Seconds())
}

// Handler serves the registry in prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
