package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"smbload/internal/config"
	"smbload/internal/metrics"
	"smbload/internal/pipeline"
	"smbload/internal/source"
	"smbload/internal/storage"
)

var (
	verbose bool
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "smbload",
	Short:         "Load SMB support registry XML files into a database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.LogLevel, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var loadCmd = &cobra.Command{
	Use:   "load [dir]",
	Short: "Load a slice of the registry files in a directory",
	Long: `Lists the files in dir (DATA_DIR by default), takes the [start, end)
slice of the sorted listing and loads every file into the configured sink.
Reference entities already in the sink are never submitted again.

Example:
  smbload load ./data/xml --start 0 --end 500 --workers 4 --report out/run.xlsx`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLoad,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.xml>",
	Short: "Parse one file and print what it would load, without a database",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent load runs",
	RunE:  runRuns,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	loadCmd.Flags().Int("start", 0, "first file index (inclusive)")
	loadCmd.Flags().Int("end", 0, "last file index (exclusive), 0 for all")
	loadCmd.Flags().Int("workers", 1, "files parsed ahead in parallel")
	loadCmd.Flags().String("report", "", "write an xlsx outcome report to this path")
	loadCmd.Flags().String("metrics", "", "write Prometheus metrics to this textfile")

	runsCmd.Flags().Int("limit", 20, "number of runs to show")

	rootCmd.AddCommand(loadCmd, inspectCmd, runsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(rootCmd.ExecuteContext(ctx))
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level = parsed
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := cfg.DataDir
	if len(args) == 1 {
		dir = args[0]
	}
	start := intFlag(cmd, "start", cfg.FileStart)
	end := intFlag(cmd, "end", cfg.FileEnd)
	workers := intFlag(cmd, "workers", cfg.Workers)
	reportPath := stringFlag(cmd, "report", cfg.ReportPath)
	metricsPath := stringFlag(cmd, "metrics", cfg.MetricsTextfile)

	store, err := storage.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	loader := pipeline.NewLoader(store, pipeline.Options{
		Workers:       workers,
		MaxRetries:    cfg.SinkMaxRetries,
		RetryInterval: cfg.SinkRetryInterval(),
		SinkTimeout:   cfg.SinkTimeout(),
		Logger:        logger,
		Metrics:       m,
	})

	summary, loadErr := loader.LoadDir(ctx, source.Dir{Pattern: cfg.FilePattern}, dir, start, end)
	if summary.RunID != "" {
		finishRun(context.WithoutCancel(ctx), store, summary, m, reportPath, metricsPath)
		printSummary(cmd.OutOrStdout(), summary)
	}
	return loadErr
}

// finishRun records the run and writes the optional report and metrics.
// Failures here are logged; the load itself already happened.
func finishRun(ctx context.Context, store storage.Store, summary pipeline.Summary, m *metrics.Metrics, reportPath, metricsPath string) {
	if err := store.RecordRun(ctx, summary.RunRecord()); err != nil {
		logger.Error("record run", zap.Error(err))
	}
	if reportPath != "" {
		if err := pipeline.ExportSummaryToXLSX(summary, reportPath); err != nil {
			logger.Error("write report", zap.String("path", reportPath), zap.Error(err))
		}
	}
	if err := m.WriteTextfile(metricsPath); err != nil {
		logger.Error("write metrics", zap.String("path", metricsPath), zap.Error(err))
	}
}

func printSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "run=%s processed=%d errors=%d skipped=%d sink_failures=%d\n",
		s.RunID, s.Processed, s.Failed, s.Skipped, s.SinkFailures)
	for _, table := range []string{"receivers", "providers", "support_kinds", "support_measures"} {
		fmt.Fprintf(w, "  %s=%d\n", table, s.Rows[table])
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	res := pipeline.ProcessFile(args[0])
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "file=%s outcome=%s documents=%d receivers=%d providers=%d support_kinds=%d support_measures=%d\n",
		res.Name(), res.Outcome(), res.Documents,
		res.Receivers.Len(), res.Providers.Len(), res.Kinds.Len(), len(res.Measures))
	for _, d := range res.Diagnostics {
		severity := "error"
		if d.Warning {
			severity = "warning"
		}
		fmt.Fprintf(out, "%s\t%s\tdoc=%s\tfield=%s\t%s\n", severity, d.Kind, d.DocID, d.Field, d.Message)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := storage.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, run := range runs {
		fmt.Fprintf(out, "%s\t%s\tfiles=%d\tfailed=%d\tduration=%s\n",
			run.ID, run.StartedAt.Format("2006-01-02 15:04:05"), run.Files, run.Failed, run.FinishedAt.Sub(run.StartedAt))
	}
	return nil
}

func intFlag(cmd *cobra.Command, name string, fallback int) int {
	if !cmd.Flags().Changed(name) {
		return fallback
	}
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func stringFlag(cmd *cobra.Command, name, fallback string) string {
	if !cmd.Flags().Changed(name) {
		return fallback
	}
	v, _ := cmd.Flags().GetString(name)
	return v
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
