// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsPath = "/metrics"

	metricsShutdownTimeout = 2 * time.Second
)

// metricsServer exposes a registry over HTTP for the lifetime of a run.
type metricsServer struct {
	registry *prometheus.Registry
	server   *http.Server
	addr     net.Addr
	done     chan struct{}
	logger   *log.Logger
}

// serveMetrics listens on addr and serves a fresh registry on /metrics.
// The registry carries the Go runtime and process collectors; sessions
// register their own collectors with it.
func serveMetrics(addr string, logger *log.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	m := &metricsServer{
		registry: reg,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:     ln.Addr(),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go func() {
		defer close(m.done)
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "url", m.URL())
	return m, nil
}

// URL returns the address of the metrics endpoint.
func (m *metricsServer) URL() string {
	return "http://" + m.addr.String() + metricsPath
}

// Close stops the server and waits for it to exit.
func (m *metricsServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("failed to stop metrics server", "error", err)
	}
	<-m.done
}
