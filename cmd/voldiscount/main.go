package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GBERESEARCH/voldiscount/api"
	"github.com/GBERESEARCH/voldiscount/internal/config"
	"github.com/GBERESEARCH/voldiscount/pkg/params"
	"github.com/GBERESEARCH/voldiscount/pkg/termstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   *logrus.Logger

	// logCloser is set when logging goes to a file.
	logCloser io.Closer
)

func main() {
	if err := execute(newRootCmd()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs cmd and then releases the log file opened for it, if any.
func execute(cmd *cobra.Command) error {
	err := cmd.Execute()
	if logCloser != nil {
		if cerr := logCloser.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close log file: %w", cerr)
		}
		logCloser = nil
	}
	return err
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voldiscount",
		Short: "Discount-rate term structure builder",
		Long:  `Fills gaps in option-implied discount-rate term structures by interpolation and extrapolation`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, logCloser, err = newLogger(cfg.Logging, logLevel)
			return err
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(), newFillCmd(), newParamsCmd(), newVersionCmd())
	return rootCmd
}

// newLogger builds the logger described by lc. The returned closer is non-nil
// only when output goes to lc.File.
func newLogger(lc config.LoggingConfig, override string) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()
	if lc.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	levelName := lc.Level
	if override != "" {
		levelName = override
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		l.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	// Results go to stdout, so diagnostics stay on stderr unless a file is set.
	l.SetOutput(os.Stderr)
	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.SetOutput(f)
		return l, f, nil
	}
	return l, nil, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the term-structure HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(cfg, logger)
			logger.Info("Term-structure API is running. Press Ctrl+C to stop.")
			if err := server.Start(ctx); err != nil {
				logger.WithError(err).Error("API server stopped with error")
				return err
			}
			logger.Info("Term-structure API stopped")
			return nil
		},
	}
}

func newFillCmd() *cobra.Command {
	var (
		output    string
		overrides []string
	)

	cmd := &cobra.Command{
		Use:   "fill FILE...",
		Short: "Fill the expiries listed in each JSON input file",
		Long: `Each FILE holds {"table": [...], "valuation_date": "...", "expiries": [...]}.
The filled tables are written as a JSON array in argument order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveParams(overrides)
			if err != nil {
				return err
			}

			jobs := make([]termstructure.Job, 0, len(args))
			for _, path := range args {
				job, err := readJob(path)
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
			}

			filler := termstructure.NewFiller(p, logger)
			results, err := filler.FillBatch(cmd.Context(), jobs, cfg.Batch.Concurrency)
			if err != nil {
				return fmt.Errorf("fill aborted: %w", err)
			}

			type fileResult struct {
				Name  string      `json:"name"`
				Added int         `json:"added"`
				Error string      `json:"error,omitempty"`
				Table interface{} `json:"table"`
			}
			out := make([]fileResult, len(results))
			for i, res := range results {
				out[i] = fileResult{Name: res.Name, Added: res.Added, Table: res.Table.Sorted()}
				if res.Err != nil {
					out[i].Error = res.Err.Error()
					logger.WithError(res.Err).WithField("file", res.Name).Warn("Some expiries were not filled")
				}
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return writeJSON(w, out)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write results to this file instead of stdout")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "parameter override as key=value (repeatable)")
	return cmd
}

func newParamsCmd() *cobra.Command {
	var overrides []string

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the effective calibration parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveParams(overrides)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "parameter override as key=value (repeatable)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip config loading.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voldiscount %s\n", version)
		},
	}
}

// resolveParams overlays --set key=value pairs on the configured parameters.
func resolveParams(pairs []string) (params.Params, error) {
	overrides := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return params.Params{}, fmt.Errorf("invalid --set %q, expected key=value", pair)
		}
		overrides[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params.Overlay(cfg.Calibration, overrides)
}

func readJob(path string) (termstructure.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return termstructure.Job{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var job termstructure.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return termstructure.Job{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if job.Valuation.IsZero() {
		return termstructure.Job{}, fmt.Errorf("%s: valuation_date is required", path)
	}
	if job.Name == "" {
		job.Name = path
	}
	return job, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
