package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/lectorlabs/lector-core/internal/config"
)

// telemetrySet owns the tracer and meter providers plus the scrape server
// that exposes run metrics while the engine executes.
type telemetrySet struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	server  *http.Server
	wg      sync.WaitGroup
}

// setupTelemetry wires observability for a run-to-completion engine: traces
// go to an OTLP collector when one is configured and to stdout otherwise,
// and the prometheus reader plus its scrape server come up only when a bind
// is configured, since between runs there is nothing worth scraping.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (*telemetrySet, error) {
	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.EngineName),
			semconv.ServiceNamespace("lector"),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	set := &telemetrySet{}
	set.traces, err = newTracerProvider(ctx, cfg, res, logger)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(set.traces)

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if bind := cfg.Telemetry.PrometheusBind; bind != "" {
		exporter, err := prometheus.New()
		if err != nil {
			logger.Warn("prometheus exporter unavailable, run metrics disabled",
				slog.String("error", err.Error()))
		} else {
			opts = append(opts, sdkmetric.WithReader(exporter))
			set.serveMetrics(bind, logger)
		}
	}
	set.metrics = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(set.metrics)

	return set, nil
}

func newTracerProvider(ctx context.Context, cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		logger.Info("trace exporter ready", slog.String("kind", "otlp"), slog.String("endpoint", endpoint))
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		logger.Info("trace exporter ready", slog.String("kind", "stdout"))
	}
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func (t *telemetrySet) serveMetrics(bind string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	t.server = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics server started", slog.String("addr", bind))
}

// Close stops the scrape server first so in-flight collections finish, then
// flushes both providers.
func (t *telemetrySet) Close(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.wg.Wait()
	if t.metrics != nil {
		if err := t.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.traces != nil {
		if err := t.traces.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
