package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillmarket_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillmarket_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 10},
		},
		[]string{"method", "route"},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillmarket_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	ClaimAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillmarket_claim_attempts_total",
			Help: "Claim attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	Purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillmarket_purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	ReconciledPurchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillmarket_reconciled_purchases_total",
			Help: "Stale pending purchases resolved by the worker",
		},
		[]string{"status"},
	)

	ExpiredClaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillmarket_expired_claims_total",
			Help: "Pending claims moved to expired by the worker",
		},
	)

	// Auth and rate limit metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillmarket_auth_failures_total",
			Help: "Rejected credentials by reason",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillmarket_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"action"},
	)

	// Collaborator metrics
	LedgerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillmarket_ledger_latency_seconds",
			Help:    "Ledger call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op"},
	)

	BestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillmarket_best_effort_failures_total",
			Help: "Swallowed failures of non-blocking side effects",
		},
		[]string{"task"},
	)
)
