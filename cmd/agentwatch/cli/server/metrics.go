package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentwatch_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	hookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentwatch_hook_events_total",
		Help: "Hook callbacks received by event name.",
	}, []string{"event"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentwatch_ws_clients",
		Help: "Connected WebSocket peers.",
	})

	wsBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentwatch_ws_broadcasts_total",
		Help: "Broadcast frames fanned out to peers.",
	})

	wsPeersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentwatch_ws_peers_dropped_total",
		Help: "Peers dropped because a write failed.",
	})

	scanTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentwatch_scan_ticks_total",
		Help: "Completed scanner ticks by scanner name.",
	}, []string{"scanner"})

	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentwatch_scan_duration_seconds",
		Help:    "Wall time of one scanner tick.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"scanner"})
)

// ObserveScan records one completed scanner tick. The daemon calls this
// from the scanner callbacks so the scanners themselves stay free of
// metrics plumbing.
func ObserveScan(scanner string, start time.Time) {
	scanTicks.WithLabelValues(scanner).Inc()
	scanDuration.WithLabelValues(scanner).Observe(time.Since(start).Seconds())
}
