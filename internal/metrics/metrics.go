package metrics

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antinuke",
		Name:      "decisions_total",
		Help:      "Enforcement decisions by action kind and verdict.",
	}, []string{"action", "verdict"})

	Remediations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antinuke",
		Name:      "remediations_total",
		Help:      "Remediation attempts by action kind and outcome.",
	}, []string{"action", "outcome"})

	CorrelationMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antinuke",
		Name:      "correlation_misses_total",
		Help:      "Events dropped because no audit entry could be attributed.",
	}, []string{"action"})

	AuditLookup = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "antinuke",
		Name:      "audit_lookup_seconds",
		Help:      "Audit log correlation latency.",
		Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"action"})

	VanityAcks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antinuke",
		Name:      "vanity_acks_total",
		Help:      "Vanity reclaim requests by acknowledgement result.",
	}, []string{"result"})

	LogEmitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antinuke",
		Name:      "log_emit_failures_total",
		Help:      "Log embeds that could not be delivered.",
	})

	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antinuke",
		Name:      "handler_panics_total",
		Help:      "Recovered panics inside gateway handlers.",
	}, []string{"event"})

	RESTLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "discord",
		Name:      "rest_request_seconds",
		Help:      "Discord REST round trip latency.",
		Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "status"})

	GatewayLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "discord",
		Name:      "gateway_heartbeat_seconds",
		Help:      "Last observed gateway heartbeat latency.",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discord",
		Name:      "commands_total",
		Help:      "Slash commands handled by name.",
	}, []string{"command"})
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Server exposes /metrics, /healthz and pprof on one listener.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("metrics"),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
