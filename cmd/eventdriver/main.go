package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/eventdriver/pkg/clock"
	"github.com/NavarchProject/eventdriver/pkg/config"
	"github.com/NavarchProject/eventdriver/pkg/scenario"
	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	verbose     bool
	debug       bool
	seed        int64
	configPath  string
	reportPath  string
	showTrace   bool
	realtime    bool
	metricsAddr string
	outputDir   string
)

var rootCmd = &cobra.Command{
	Use:   "eventdriver",
	Short: "Event-driven scheduler scenario runner",
	Long: `eventdriver runs scripted scenarios against the tick and time
scheduler on a simulated host and checks the resulting trace.

A scenario declares the host alarms, the routines the program runs,
commands delivered at fixed host times, and CEL assertions evaluated
over the recorded firings.`,
}

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario",
	Long: `Run a scenario from a YAML file.

Examples:
  # Run a scenario on the simulated host
  eventdriver run testdata/door-closer.yaml

  # Override host and process settings from a config file
  eventdriver run testdata/door-closer.yaml --config testdata/fast-host.yaml

  # Fix the jitter seed and dump the invocation trace
  eventdriver run testdata/kicker.yaml --seed 42 --trace

  # Run against wall-clock time and expose scheduler metrics
  eventdriver run testdata/door-closer.yaml --realtime --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>",
	Short: "Validate a scenario file without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  validateScenario,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Host and Process config overriding the scenario's")

	runCmd.Flags().Int64Var(&seed, "seed", 0, "Jitter seed overriding the scenario's")
	runCmd.Flags().StringVar(&reportPath, "report", "", "Write the run report as JSON to this file")
	runCmd.Flags().BoolVar(&showTrace, "trace", false, "Print the invocation trace")
	runCmd.Flags().BoolVar(&realtime, "realtime", false, "Run against wall-clock time until the host horizon")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve scheduler metrics on this address")
	runCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Write run artifacts to a timestamped directory here")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd())
}

// setupLogger picks the level from --debug or --verbose, then from the
// process log_level, and falls back to warn.
func setupLogger(processLevel string) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	} else if verbose {
		level = slog.LevelInfo
	} else if processLevel != "" {
		if l, err := config.ParseLevel(processLevel); err == nil {
			level = l
		}
	}

	handler := NewEventHandler(os.Stdout, level)
	return slog.New(handler)
}

// loadScenario reads the scenario and applies the --config overrides.
func loadScenario(path string) (*scenario.Scenario, error) {
	sc, err := scenario.LoadScenario(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario: %w", err)
	}
	if configPath == "" {
		return sc, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Host != nil {
		sc.Host = cfg.Host.Spec
	}
	if cfg.Process != nil {
		sc.Process = cfg.Process.Spec
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario with config overrides: %w", err)
	}
	return sc, nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := loadScenario(args[0])
	if err != nil {
		return err
	}
	logger := setupLogger(sc.Process.LogLevel)

	logger.Info("loaded scenario",
		slog.String("name", sc.Name),
		slog.String("description", sc.Description),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down...")
		cancel()
	}()

	runLogger := logger
	reportFile := reportPath
	if outputDir != "" {
		rd, err := scenario.NewRunDir(outputDir, sc)
		if err != nil {
			return err
		}
		defer rd.Close()
		if runLogger, err = rd.CreateLogger(); err != nil {
			return err
		}
		if reportFile == "" {
			reportFile = rd.ReportPath()
		}
		logger.Info("run directory created", slog.String("dir", rd.Dir()))
	}

	opts := []scenario.RunnerOption{
		scenario.WithLogger(runLogger),
	}
	if cmd.Flags().Changed("seed") {
		opts = append(opts, scenario.WithSeed(seed))
		logger.Info("using seed", slog.Int64("seed", seed))
	}
	if realtime {
		opts = append(opts, scenario.WithRealtime(clock.Real()))
	}
	if metricsAddr != "" {
		metrics := scheduler.NewMetrics()
		shutdown, err := serveMetrics(metricsAddr, metrics, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		opts = append(opts, scenario.WithMetrics(metrics))
	}

	console := scenario.NewConsole()
	console.PrintHeader(sc)

	result, runErr := scenario.NewRunner(sc, opts...).Run(ctx)
	if result == nil {
		return fmt.Errorf("scenario failed: %w", runErr)
	}

	if showTrace {
		printTrace(os.Stdout, result)
	}
	console.PrintResults(result)

	if reportFile != "" {
		if err := result.WriteJSON(reportFile); err != nil {
			return err
		}
		logger.Info("report written", slog.String("path", reportFile))
	}

	if runErr != nil {
		return fmt.Errorf("scenario failed: %w", runErr)
	}
	return nil
}

// serveMetrics serves m on addr until the returned function is called.
func serveMetrics(addr string, m *scheduler.Metrics, logger *slog.Logger) (func(), error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics server started", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", slog.String("error", err.Error()))
		}
	}, nil
}

func validateScenario(cmd *cobra.Command, args []string) error {
	sc, err := loadScenario(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Scenario %q is valid\n", sc.Name)
	fmt.Printf("  Routines:   %d\n", len(sc.Routines))
	fmt.Printf("  Commands:   %d\n", len(sc.Commands))
	fmt.Printf("  Assertions: %d\n", len(sc.Assertions))

	if _, err := scenario.NewEvaluator(sc.Assertions); err != nil {
		return fmt.Errorf("assertions: %w", err)
	}
	return nil
}
