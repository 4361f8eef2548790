package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardKnop/machinery/v2/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queueprobe/queueprobe/internal/config"
	"github.com/queueprobe/queueprobe/internal/health"
	"github.com/queueprobe/queueprobe/internal/logging"
	"github.com/queueprobe/queueprobe/internal/metrics"
	"github.com/queueprobe/queueprobe/internal/probes"
	"github.com/queueprobe/queueprobe/internal/sidechannel"
	"github.com/queueprobe/queueprobe/internal/tracing"
	"github.com/queueprobe/queueprobe/internal/worker"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	// Initialize structured logging
	logger := logging.New("queueprobe-worker")

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, "queueprobe-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// Side-channel redis connect
	side := sidechannel.New(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := side.Ping(pingCtx); err != nil {
		cancel()
		logger.Plain().WithError(err).Fatal("side channel redis connect failed")
	}
	cancel()

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// HTTP health/metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(side))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	// Framework server with the full probe roster
	suite := probes.New(side, cfg.Probes)
	server := worker.BuildServer(cfg)
	if err := worker.RegisterSuite(server, suite); err != nil {
		logger.Plain().WithError(err).Fatal("probe registration failed")
	}

	w := server.NewWorker(cfg.Queue.ConsumerTag, cfg.Queue.Concurrency)
	w.SetPreTaskHandler(func(sig *tasks.Signature) {
		metrics.ProbesStartedTotal.WithLabelValues(sig.Name).Inc()
		// Substitute canvases carry the dispatching probe's trace in their
		// headers; pick it up so the log line joins that trace.
		taskCtx := tracing.ExtractTraceFromHeaders(ctx, headerCarrier(sig.Headers))
		logger.WithContext(taskCtx).WithProbe(sig.Name).WithTask(sig.UUID).WithGroup(sig.GroupUUID).Debug("probe started")
	})
	w.SetPostTaskHandler(func(sig *tasks.Signature) {
		metrics.ProbesFinishedTotal.WithLabelValues(sig.Name, "finished").Inc()
		logger.Plain().WithProbe(sig.Name).WithTask(sig.UUID).Debug("probe finished")
	})
	w.SetErrorHandler(func(err error) {
		logger.Plain().WithError(err).Error("probe execution failed")
	})

	errChan := make(chan error, 1)
	w.LaunchAsync(errChan)
	logger.Plain().WithFields(map[string]any{
		"queue":       cfg.Queue.Name,
		"concurrency": cfg.Queue.Concurrency,
		"tag":         cfg.Queue.ConsumerTag,
	}).Info("worker started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errChan:
		logger.Plain().WithError(err).Error("worker stopped with error")
	case <-stop:
		logger.Plain().Info("Shutting down worker")
		w.Quit()
	}

	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker stopped")
}

// headerCarrier keeps the string-valued signature headers, the only kind the
// trace propagator reads.
func headerCarrier(headers tasks.Headers) map[string]string {
	carrier := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return carrier
}
