package bot

import (
	"net/http"
	"strconv"
	"time"

	"discord-antinuke-bot/internal/metrics"

	"go.uber.org/zap"
)

// PerfTransport wraps http.RoundTripper to track REST latency
type PerfTransport struct {
	Base http.RoundTripper
}

func (t *PerfTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)

	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	metrics.RESTLatency.WithLabelValues(req.Method, status).Observe(time.Since(start).Seconds())
	return resp, err
}

// monitorHeartbeat publishes gateway latency every interval until done is closed.
func (b *Bot) monitorHeartbeat(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		latency := b.Session.HeartbeatLatency()
		metrics.GatewayLatency.Set(latency.Seconds())

		switch {
		case latency <= 0:
			// no heartbeat acknowledged yet
		case latency < 100*time.Millisecond:
			b.Logger.Debug("gateway latency", zap.Duration("latency", latency))
		case latency < time.Second:
			b.Logger.Info("gateway latency high", zap.Duration("latency", latency))
		default:
			b.Logger.Warn("gateway latency critical", zap.Duration("latency", latency))
		}
	}
}
