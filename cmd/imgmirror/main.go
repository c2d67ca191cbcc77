package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/schaermu/imgmirror/internal/config"
	"github.com/schaermu/imgmirror/internal/history"
	"github.com/schaermu/imgmirror/internal/logging"
	"github.com/schaermu/imgmirror/internal/sync"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
	historyDB string

	// Mirror flags
	source   string
	dest     string
	size     sizeValue
	square   bool
	noResize bool
	quality  int
	patterns []string
	workers  int
	dryRun   bool

	// History flags
	historyLimit int
)

func main() {
	rootCmd.SetArgs(normalizeSizeArgs(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "imgmirror --source DIR --dest DIR",
	Short: "Mirror an image tree into a normalized copy",
	Long: `imgmirror makes the destination tree mirror the image files of the source tree.

Files present only in the source are copied and, unless --no-resize is given,
normalized: metadata is stripped, the image is shrunk to fit --size, optionally
padded to a square on white, and re-encoded. Files present only in the
destination are deleted. Files present on both sides are never touched.

Only files matching one of the patterns take part; everything else in the
destination is left alone.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runMirror,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded mirror runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("imgmirror %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	bindGlobalFlags(rootCmd.PersistentFlags())
	bindMirrorFlags(rootCmd.Flags())

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show (0 for all)")

	// Add commands
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func bindGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVar(&cfgFile, "config", "", "optional YAML config file; explicitly set flags override it")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file, rotated at 10 MB")
	flags.StringVar(&historyDB, "history-db", "", "record run summaries in this database file")
}

func bindMirrorFlags(flags *pflag.FlagSet) {
	size = sizeValue{Width: config.DefaultWidth, Height: config.DefaultHeight}

	flags.StringVar(&source, "source", "", "source directory (required)")
	flags.StringVar(&dest, "dest", "", "destination directory (required)")
	flags.Var(&size, "size", "bounding box as W H, WxH or W,H")
	flags.BoolVar(&square, "square", false, "pad resized images to a square on white")
	flags.BoolVar(&noResize, "no-resize", false, "copy files without normalizing them")
	flags.IntVar(&quality, "quality", config.DefaultQuality, "JPEG quality of re-encoded images (1-100)")
	flags.StringArrayVar(&patterns, "pattern", nil, "shell pattern of eligible files, repeatable (default "+fmt.Sprint(config.DefaultPatterns)+")")
	flags.IntVar(&workers, "workers", config.DefaultWorkers, "number of files processed concurrently")
	flags.BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
}

func runMirror(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = closer.Close()
	}()

	engine, err := sync.NewEngine(cfg, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	startedAt := time.Now()
	summary, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	recordRun(cfg, startedAt, summary, logger)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadBaseConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.History.DBPath == "" {
		return fmt.Errorf("no history database configured (use --history-db)")
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	runs, err := store.List(historyLimit)
	if err != nil {
		return err
	}

	return printRuns(cmd.OutOrStdout(), runs)
}

func printRuns(out io.Writer, runs []history.Run) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tCOPIED\tDELETED\tSKIPPED\tFAILED\tDRY-RUN\tSOURCE -> DEST")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%t\t%s -> %s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond),
			r.Copied, r.Deleted, r.Skipped, r.Failed,
			r.DryRun,
			r.Source, r.Dest)
	}
	return w.Flush()
}

// recordRun stores the run summary. History is best effort and never fails a run.
func recordRun(cfg *config.Config, startedAt time.Time, summary *sync.Summary, logger *slog.Logger) {
	if cfg.History.DBPath == "" {
		return
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		logger.Warn("failed to open run history", "error", err)
		return
	}
	defer func() {
		_ = store.Close()
	}()

	run, err := store.Record(history.Run{
		StartedAt:  startedAt,
		Duration:   summary.Duration,
		Source:     cfg.Paths.Source,
		Dest:       cfg.Paths.Dest,
		Planned:    summary.Planned,
		Copied:     summary.Copied,
		Deleted:    summary.Deleted,
		Normalized: summary.Normalized,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
		DryRun:     summary.DryRun,
	})
	if err != nil {
		logger.Warn("failed to record run history", "error", err)
		return
	}
	logger.Debug("run recorded", "id", run.ID, "db", cfg.History.DBPath)
}

func setupLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, os.Stdout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, closer, nil
}

// loadBaseConfig returns the defaults, overlaid by the config file if one is
// given, overlaid by the global flags that were set explicitly.
func loadBaseConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("history-db") {
		cfg.History.DBPath = historyDB
	}

	return cfg, nil
}

// loadConfig builds and validates the configuration of a mirror run.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := loadBaseConfig(flags)
	if err != nil {
		return nil, err
	}

	if flags.Changed("source") {
		cfg.Paths.Source = source
	}
	if flags.Changed("dest") {
		cfg.Paths.Dest = dest
	}
	if flags.Changed("size") {
		cfg.Resize.Size = config.Size(size)
	}
	if flags.Changed("square") {
		cfg.Resize.Square = square
	}
	if flags.Changed("no-resize") {
		cfg.Resize.Disabled = noResize
	}
	if flags.Changed("quality") {
		cfg.Resize.Quality = quality
	}
	if flags.Changed("pattern") {
		cfg.Sync.Patterns = append([]string(nil), patterns...)
	}
	if flags.Changed("workers") {
		cfg.Sync.Workers = workers
	}
	if flags.Changed("dry-run") {
		cfg.Sync.DryRun = dryRun
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sizeValue is the pflag.Value behind --size
type sizeValue config.Size

func (s *sizeValue) String() string { return config.Size(*s).String() }

func (s *sizeValue) Set(v string) error {
	parsed, err := config.ParseSize(v)
	if err != nil {
		return err
	}
	*s = sizeValue(parsed)
	return nil
}

func (s *sizeValue) Type() string { return "WxH" }

// normalizeSizeArgs rewrites the two-token form "--size W H" into
// "--size=WxH", which pflag can parse. Other arguments pass through.
func normalizeSizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if arg == "--size" && i+2 < len(args) && isUint(args[i+1]) && isUint(args[i+2]) {
			out = append(out, "--size="+args[i+1]+"x"+args[i+2])
			i += 2
			continue
		}
		out = append(out, arg)
	}
	return out
}

func isUint(s string) bool {
	_, err := strconv.ParseUint(s, 10, 0)
	return err == nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
