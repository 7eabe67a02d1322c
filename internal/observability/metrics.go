package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BroadcastsTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_broker", Name: "broadcasts_total", Help: "Total ride requests broadcast to bikers"})
	BroadcastRecipients = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_broker", Name: "broadcast_recipients", Help: "Eligible bikers per broadcast", Buckets: []float64{0, 1, 2, 5, 10, 25, 50}})
	MatchesTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_broker", Name: "matches_total", Help: "Total accepted matches"})
	MatchConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_broker", Name: "match_conflicts_total", Help: "Biker accepts rejected because the request was already matched"})
	InvoicesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_broker", Name: "invoices_total", Help: "Invoices issued to riders"})
	PaymentsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_broker", Name: "payments_total", Help: "Confirmed payments"})
	RelayUpdatesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_broker", Name: "relay_updates_total", Help: "Live location edits relayed to riders"})
	RequestsExpired     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_broker", Name: "requests_expired_total", Help: "Open requests expired unmatched"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_broker", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_broker",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
