package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/crs/cache"
	"github.com/bpt-pm/bpt/internal/xlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// cleanup holds work that must finish before main returns, mirroring
// cmd/cctool/main.go's package-level WaitGroup.
var cleanup sync.WaitGroup

type subcmd func(context.Context, []string) error

var subcommands = map[string]subcmd{
	"build":            runBuild,
	"compile-file":     runCompileFile,
	"build-deps":       runBuildDeps,
	"pkg":              runPkg,
	"repo":             runRepo,
	"install-yourself": runInstallYourself,
	"new":              runNew,
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bpt <subcommand> [flags] [args...]")
	fmt.Fprintln(os.Stderr, "subcommands:")
	for name := range subcommands {
		fmt.Fprintf(os.Stderr, "  %s\n", name)
	}
}

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()

	setupLogging()
	shutdownTracing := setupTracing()
	defer shutdownTracing()
	registerMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		<-ch
		cancel()
	}()

	if len(os.Args) < 2 {
		usage()
		os.Exit(99)
	}
	name := os.Args[1]
	cmd, ok := subcommands[name]
	if !ok {
		usage()
		os.Exit(99)
	}

	var cmdErr error
	cmdctx, cmddone := context.WithCancel(ctx)
	go func() {
		defer cmddone()
		cmdErr = cmd(cmdctx, os.Args[2:])
	}()

	select {
	case <-ctx.Done():
		slog.Error("interrupted", "error", ctx.Err())
		exit = 2
	case <-cmdctx.Done():
		if cmdErr != nil {
			slog.Error("command failed", "command", name, "error", cmdErr)
			exit = bpt.ExitCode(cmdErr)
			if exit == 0 {
				exit = 1
			}
		}
	}
	cleanup.Wait()
}

// setupLogging installs the root slog handler every package reaches
// through internal/xlog.WrapHandler, so a call deep inside the solver
// or scheduler logs through whatever level BPT_LOG_LEVEL selected
// without threading a logger argument through every signature. When
// BPT_OTEL_ENDPOINT is set, records also fan out to the otelslog
// bridge so they land alongside the spans setupTracing emits.
func setupLogging() {
	level := parseLogLevel(envOr("BPT_LOG_LEVEL", "info"))
	base := slog.Handler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if os.Getenv("BPT_OTEL_ENDPOINT") != "" {
		base = fanoutHandler{base, otelslog.NewHandler("bpt")}
	}
	slog.SetDefault(slog.New(xlog.WrapHandler(base)))
}

// fanoutHandler forwards every record to each of its members, used to
// send logs to both stderr and the OTel log bridge without picking one
// over the other.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	case "silent":
		return slog.Level(1 << 30)
	default:
		return slog.LevelInfo
	}
}

// setupTracing wires an OTLP gRPC exporter when BPT_OTEL_ENDPOINT is
// set; otherwise tracing stays a no-op, matching the teacher's pattern
// of only paying tracing's cost when a collector is actually configured.
func setupTracing() func() {
	endpoint := os.Getenv("BPT_OTEL_ENDPOINT")
	if endpoint == "" {
		return func() {}
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		slog.Warn("failed to start OTLP trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", "bpt")))
	if err != nil {
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("error shutting down tracer provider", "error", err)
		}
	}
}

const shutdownTimeout = 5 * time.Second

// registerMetrics builds the registry every internal package's
// collectors attach to and, if BPT_METRICS_ADDR is set, serves it over
// /metrics for local scraping during long-running builds.
func registerMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := cache.RegisterMetrics(reg); err != nil {
		slog.Warn("failed to register crs cache metrics", "error", err)
	}

	addr := os.Getenv("BPT_METRICS_ADDR")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	cleanup.Add(1)
	go func() {
		defer cleanup.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server exited", "error", err)
		}
	}()
}
