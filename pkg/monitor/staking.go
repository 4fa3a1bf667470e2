package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StakingMetrics 定义质押流水线的业务指标
// 所有方法都允许 nil 接收者，未 Init 时 (单元测试) 直接跳过
type StakingMetrics struct {
	FactsIngested      *prometheus.CounterVec
	FactsRejected      *prometheus.CounterVec
	StateRebuilds      *prometheus.CounterVec
	AlertsEmitted      *prometheus.CounterVec
	FeeEstimations     *prometheus.CounterVec
	FeeCacheHits       prometheus.Counter
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	PipesActive        prometheus.Gauge
}

// Global Metrics Instance
var Staking *StakingMetrics

// InitStakingMetrics 初始化业务指标
func InitStakingMetrics() {
	Staking = &StakingMetrics{
		FactsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_facts_ingested_total",
			Help: "Fact deltas applied, by delta kind",
		}, []string{"kind"}),
		FactsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_facts_rejected_total",
			Help: "Fact deltas rejected as malformed",
		}, []string{"reason"}),
		StateRebuilds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_state_rebuilds_total",
			Help: "Staking state rebuilds, by program and resulting state",
		}, []string{"program", "state"}),
		AlertsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_alerts_emitted_total",
			Help: "Alerts present in published snapshots",
		}, []string{"alert"}),
		FeeEstimations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_fee_estimations_total",
			Help: "Underlying fee estimations, by result",
		}, []string{"result"}),
		FeeCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "staking_fee_cache_hits_total",
			Help: "Fee quotes served from cache",
		}),
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "staking_submissions_total",
			Help: "Terminal submission outcomes",
		}, []string{"chain", "outcome"}),
		SubmissionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "staking_submission_duration_seconds",
			Help:    "Time from submit to terminal outcome",
			Buckets: []float64{1, 6, 12, 30, 60, 120, 300},
		}, []string{"chain"}),
		PipesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "staking_fact_pipes_active",
			Help: "Active (account, chain) fact pipes",
		}),
	}
}

func (m *StakingMetrics) FactIngested(kind string) {
	if m == nil {
		return
	}
	m.FactsIngested.WithLabelValues(kind).Inc()
}

func (m *StakingMetrics) FactRejected(reason string) {
	if m == nil {
		return
	}
	m.FactsRejected.WithLabelValues(reason).Inc()
}

func (m *StakingMetrics) Rebuilt(program, state string) {
	if m == nil {
		return
	}
	m.StateRebuilds.WithLabelValues(program, state).Inc()
}

func (m *StakingMetrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.AlertsEmitted.WithLabelValues(kind).Inc()
}

func (m *StakingMetrics) FeeEstimated(result string) {
	if m == nil {
		return
	}
	m.FeeEstimations.WithLabelValues(result).Inc()
}

func (m *StakingMetrics) FeeHit() {
	if m == nil {
		return
	}
	m.FeeCacheHits.Inc()
}

func (m *StakingMetrics) Submitted(chain, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(chain, outcome).Inc()
	m.SubmissionDuration.WithLabelValues(chain).Observe(took.Seconds())
}

func (m *StakingMetrics) PipeOpened() {
	if m == nil {
		return
	}
	m.PipesActive.Inc()
}

func (m *StakingMetrics) PipeClosed() {
	if m == nil {
		return
	}
	m.PipesActive.Dec()
}
