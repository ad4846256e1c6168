package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/diabetesml/pipeline"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
	"github.com/YuminosukeSato/diabetesml/report"
)

var version = "0.1.0"

// runFlags are the command-line overrides of the config file.
type runFlags struct {
	configFile  string
	dataPath    string
	outputDir   string
	seed        int64
	initPoints  int
	nIter       int
	optimizer   string
	workers     int
	logLevel    string
	logFormat   string
	metricsFile string
	noPlots     bool
	timeout     time.Duration
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "diabetesml",
		Short: "Diabetes risk classification on the BRFSS2015 health indicators",
		Long: `diabetesml cleans the BRFSS2015 diabetes health-indicator survey, balances it
with SMOTE, compares logistic regression, k-nearest neighbours and gradient
boosting, and tunes the booster with Bayesian optimization.`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "diabetesml v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var validatePath string
	validateCmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Check a configuration file without running the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(validatePath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", validatePath)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&validatePath, "config", "c", "", "Path to the YAML configuration file (required)")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	root.AddCommand(&cobra.Command{
		Use:   "summary REPORT",
		Short: "Print the summary table of a saved JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := report.ReadJSON(args[0])
			if err != nil {
				return err
			}
			return report.WriteSummary(cmd.OutOrStdout(), res)
		},
	})

	f := &runFlags{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full training and tuning pipeline",
		Long: `Run every stage once: load, deduplicate, split, remove training outliers,
scale, balance, evaluate the model bank, tune the booster and evaluate the
tuned model. Flags override values from the configuration file.

Example:
  diabetesml run --config config.yaml --data diabetes_binary_health_indicators_BRFSS2015.csv.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f.configFile)
			if err != nil {
				return err
			}
			applyFlags(cmd, f, cfg)
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), cfg, f.timeout)
		},
	}
	flags := runCmd.Flags()
	flags.StringVarP(&f.configFile, "config", "c", "", "Path to the YAML configuration file")
	flags.StringVarP(&f.dataPath, "data", "d", "", "Path to the CSV export (.csv, .csv.gz or .csv.lz4)")
	flags.StringVarP(&f.outputDir, "output", "o", "", "Directory for the report and plots")
	flags.Int64Var(&f.seed, "seed", 42, "Seed of every random component")
	flags.IntVar(&f.initPoints, "init-points", 5, "Random samples before guided tuning")
	flags.IntVar(&f.nIter, "n-iter", 25, "Guided tuning iterations")
	flags.StringVar(&f.optimizer, "optimizer", "gp", "Search strategy (gp = Gaussian process, tpe = goptuna TPE)")
	flags.IntVar(&f.workers, "workers", 0, "Worker goroutines for parallel stages (0 = number of CPUs)")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&f.logFormat, "log-format", "console", "Log format (console, json)")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	flags.BoolVar(&f.noPlots, "no-plots", false, "Skip chart rendering")
	flags.DurationVar(&f.timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	root.AddCommand(runCmd)

	return root
}

func loadConfig(path string) (*pipeline.Config, error) {
	if path == "" {
		return pipeline.DefaultConfig(), nil
	}
	return pipeline.LoadConfig(path)
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cmd *cobra.Command, f *runFlags, cfg *pipeline.Config) {
	changed := cmd.Flags().Changed
	if changed("data") {
		cfg.DataPath = f.dataPath
	}
	if changed("output") {
		cfg.OutputDir = f.outputDir
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("init-points") {
		cfg.InitPoints = f.initPoints
	}
	if changed("n-iter") {
		cfg.NIter = f.nIter
	}
	if changed("optimizer") {
		cfg.Optimizer = f.optimizer
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if f.noPlots {
		cfg.Plots = false
	}
}

func runPipeline(ctx context.Context, out io.Writer, cfg *pipeline.Config, timeout time.Duration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := log.SetupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("diabetesml")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("Starting pipeline",
		log.PathKey, cfg.DataPath,
		log.RandomSeedKey, cfg.Seed,
		"init_points", cfg.InitPoints,
		"n_iter", cfg.NIter,
	)
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.ReportFile != "" {
		path := cfg.ReportFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.OutputDir, path)
		}
		if err := report.WriteJSON(path, res); err != nil {
			return err
		}
		logger.Info("Report written", log.PathKey, path)
	}
	if cfg.Plots {
		files, err := report.WritePlots(res, cfg.OutputDir, cfg.TopFeatures)
		if err != nil {
			return err
		}
		logger.Info("Plots written", log.PathKey, cfg.OutputDir, "files", len(files))
	}
	return report.WriteSummary(out, res)
}
