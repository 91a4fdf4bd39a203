// Command atmos renders the atmosphere scene and prints per-pass GPU
// timings on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/atmos"
	"github.com/gogpu/atmos/backend"
	_ "github.com/gogpu/atmos/backend/native"
	_ "github.com/gogpu/atmos/backend/sim"
	"github.com/gogpu/atmos/pass"
	"github.com/gogpu/atmos/telemetry/promexport"
)

// errUsage reports invalid flag values. Usage has already been printed.
var errUsage = errors.New("invalid usage")

type flags struct {
	width, height uint
	weather       string
	terrain       string
	frames        int
	threads       int
	backend       string
	godRays       bool
	idleStall     bool
	metricsAddr   string
	verbose       bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, []atmos.Option, error) {
	fs := flag.NewFlagSet("atmos", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &flags{}
	fs.UintVar(&f.width, "width", atmos.DefaultWidth, "render width")
	fs.UintVar(&f.height, "height", atmos.DefaultHeight, "render height")
	fs.StringVar(&f.weather, "weather", pass.WeatherStratocumulus.String(), "weather map: stratus, stratocumulus, cumulus or nubis")
	fs.StringVar(&f.terrain, "terrain", pass.TerrainDefault.String(), "terrain: default or mountain")
	fs.IntVar(&f.frames, "frames", 0, "frames to render, 0 until interrupted")
	fs.IntVar(&f.threads, "threads", atmos.DefaultThreads, "recording workers")
	fs.StringVar(&f.backend, "backend", "", "device backend, empty for the best available")
	fs.BoolVar(&f.godRays, "god-rays", true, "render god rays")
	fs.BoolVar(&f.idleStall, "idle-stall", false, "wait for device idle before parallel recording")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, nil, errUsage
	}

	weather, err := pass.ParseWeather(f.weather)
	if err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return nil, nil, errUsage
	}
	terrain, err := pass.ParseTerrainShape(f.terrain)
	if err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return nil, nil, errUsage
	}

	opts := []atmos.Option{
		atmos.WithSize(uint32(f.width), uint32(f.height)), //nolint:gosec // validated by atmos.New
		atmos.WithWeather(weather),
		atmos.WithTerrain(terrain),
		atmos.WithThreads(f.threads),
		atmos.WithGodRays(f.godRays),
		atmos.WithDeviceIdleStall(f.idleStall),
	}
	return f, opts, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	f, opts, err := parseFlags(args, stderr)
	if err != nil {
		return 1
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	atmos.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := backend.Open(ctx, f.backend)
	if err != nil {
		logger.Error("atmos: open device", "backend", f.backend, "err", err)
		return 1
	}
	defer dev.Destroy()

	r, err := atmos.New(dev, opts...)
	if err != nil {
		logger.Error("atmos: create renderer", "err", err)
		return 1
	}

	err = render(ctx, r, f, logger)
	if cerr := r.Close(); cerr != nil {
		logger.Warn("atmos: close renderer", "err", cerr)
	}
	if werr := r.Benchmark().WriteReport(stdout); werr != nil {
		logger.Warn("atmos: write report", "err", werr)
	}
	if err != nil {
		logger.Error("atmos: render", "err", err)
		return 1
	}
	return 0
}

// render runs the frame loop and, when configured, the metrics server
// until the loop ends. The first failure of either stops both.
func render(ctx context.Context, r *atmos.Renderer, f *flags, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A finished run stops the metrics server too.
		defer cancel()
		return r.Run(ctx, f.frames)
	})

	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(promexport.NewCollector("atmos", r.Benchmark()))
		srv := promexport.NewServer(f.metricsAddr, reg)
		g.Go(func() error {
			logger.Info("atmos: serving metrics", "addr", f.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
