package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/safemasking/masking-api/pkg/metrics"
	"go.uber.org/zap"
)

const readinessTimeout = 3 * time.Second

// ReadinessCheck reports whether one dependency of the service is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// MetricServer serves prometheus metrics and the readiness probe on the
// internal port, away from the public API.
type MetricServer struct {
	bindAddress string
	httpServer  *http.Server
	listener    net.Listener
}

func NewMetricServer(bindAddress string, listener net.Listener, checks ...ReadinessCheck) *MetricServer {
	router := chi.NewRouter()
	router.Handle("/metrics", metrics.NewPrometheusMetricsHandler().Handler())
	router.Get("/readyz", readinessHandler(checks))

	return &MetricServer{
		bindAddress: bindAddress,
		listener:    listener,
		httpServer: &http.Server{
			Addr:    bindAddress,
			Handler: router,
		},
	}
}

// Handler is exposed for tests.
func (m *MetricServer) Handler() http.Handler {
	return m.httpServer.Handler
}

// readinessHandler runs every check and answers 503 naming the failed ones.
// The worker being down does not stop the API from accepting uploads, but
// new jobs would fail at dispatch, so it counts against readiness.
func readinessHandler(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				zap.S().Named("metrics_server").Warnw("readiness check failed", "check", c.Name, "error", err)
				report[c.Name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[c.Name] = "ok"
		}

		render.Status(r, status)
		render.JSON(w, r, report)
	}
}

func (m *MetricServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		m.httpServer.SetKeepAlivesEnabled(false)
		_ = m.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("metrics_server").Info("metrics server terminated")
	}()

	zap.S().Named("metrics_server").Infof("serving metrics and readiness: %s", m.bindAddress)
	if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
