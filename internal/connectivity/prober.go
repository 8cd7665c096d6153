package connectivity

import (
	"context"
	"net/http"
	"time"

	"pos-sync/internal/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Prober verifies that the back office can actually be reached
type Prober interface {
	Reachable(ctx context.Context) bool
}

// HTTPProber issues a HEAD request against a known endpoint
type HTTPProber struct {
	url            string
	timeout        time.Duration
	requireHealthy bool
	httpClient     *http.Client
	logger         *zap.Logger
}

// NewHTTPProber creates a prober for url. Any HTTP answer, including 401 and
// 403, proves reachability unless requireHealthy is set, in which case 5xx
// answers count as unreachable too.
func NewHTTPProber(url string, timeout time.Duration, requireHealthy bool) *HTTPProber {
	return &HTTPProber{
		url:            url,
		timeout:        timeout,
		requireHealthy: requireHealthy,
		httpClient:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:         util.ComponentLogger("connectivity"),
	}
}

// Reachable reports whether the server answered within the timeout
func (p *HTTPProber) Reachable(ctx context.Context) bool {
	ctx, span := util.StartSpan(ctx, "connectivity.Probe", attribute.String("probe.url", p.url))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		util.ConnectivityProbeLatency.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		util.ConnectivityProbesTotal.WithLabelValues("error").Inc()
		p.logger.Error("Invalid probe request", zap.String("url", p.url), zap.Error(err))
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		util.ConnectivityProbesTotal.WithLabelValues("unreachable").Inc()
		p.logger.Debug("Probe failed", zap.String("url", p.url), zap.Error(err))
		return false
	}
	resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if p.requireHealthy && resp.StatusCode >= 500 {
		util.ConnectivityProbesTotal.WithLabelValues("unhealthy").Inc()
		p.logger.Debug("Probe answered unhealthy", zap.Int("status", resp.StatusCode))
		return false
	}

	util.ConnectivityProbesTotal.WithLabelValues("reachable").Inc()
	return true
}
