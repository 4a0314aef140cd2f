package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "votecredit_http_requests_total",
		Help: "Total HTTP requests processed, labeled by route and status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "votecredit_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
	}, []string{"method", "route"})

	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "votecredit_rpc_requests_total",
		Help: "Chain and processor calls per endpoint pool and outcome",
	}, []string{"pool", "outcome"})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "votecredit_verifications_total",
		Help: "Verification outcomes per rail",
	}, []string{"rail", "outcome"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "votecredit_settlements_total",
		Help: "Settlement transitions per rail and resulting state",
	}, []string{"rail", "result"})

	CreditsIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "votecredit_credits_issued_total",
		Help: "Vote credits granted through settlement",
	}, []string{"rail"})

	ReplayConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "votecredit_replay_conflicts_total",
		Help: "External references presented for a second intent",
	})
)
