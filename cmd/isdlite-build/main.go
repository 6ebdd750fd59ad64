package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ngmaloney/isd-lite/internal/config"
	"github.com/ngmaloney/isd-lite/internal/database"
	"github.com/ngmaloney/isd-lite/internal/dataset"
	"github.com/ngmaloney/isd-lite/internal/logging"
	"github.com/ngmaloney/isd-lite/internal/ncei"
	"github.com/ngmaloney/isd-lite/internal/stations"
	"github.com/ngmaloney/isd-lite/internal/ui"
)

type options struct {
	configPath string
	name       string
	jobs       int
	offline    bool
	refresh    bool
	listing    bool
	tui        bool
	selection  selection

	startYear int
	endYear   int
	dataDir   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to a TOML config file")
	flag.StringVar(&opts.name, "name", "stations", "Base name for the station list and dataset files")
	flag.IntVar(&opts.jobs, "n", 0, "Concurrent transfers (overrides download.jobs)")
	flag.BoolVar(&opts.offline, "offline", false, "Use only files already in the data directory")
	flag.BoolVar(&opts.refresh, "refresh", false, "Download every file again, ignoring cache validators")
	flag.BoolVar(&opts.listing, "listing", false, "Check availability from the yearly directory listings instead of probing each file")
	flag.BoolVar(&opts.tui, "tui", false, "Show download progress in a terminal view")
	opts.selection.register(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] START_YEAR END_YEAR DATA_DIR\n\nFlags:\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := opts.parseArgs(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) parseArgs(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("expected START_YEAR END_YEAR DATA_DIR, got %d arguments", len(args))
	}
	var err error
	if o.startYear, err = strconv.Atoi(args[0]); err != nil {
		return fmt.Errorf("invalid start year %q", args[0])
	}
	if o.endYear, err = strconv.Atoi(args[1]); err != nil {
		return fmt.Errorf("invalid end year %q", args[1])
	}
	if o.startYear > o.endYear {
		return fmt.Errorf("start year %d is after end year %d", o.startYear, o.endYear)
	}
	o.dataDir = args[2]
	return nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.jobs > 0 {
		cfg.Download.Jobs = opts.jobs
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(opts.dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	store, closeStore, err := openStore(cfg, opts.dataDir, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client := &http.Client{}
	fetcher := ncei.NewFetcher(client, store, cfg.Fetcher(), logger)
	orch := ncei.NewOrchestrator(fetcher, logger)
	base := cfg.Archive.BaseURL

	historyPath := filepath.Join(opts.dataDir, ncei.HistoryFileName)
	var catalog *stations.Catalog
	if opts.offline {
		catalog, err = stations.FromFile(historyPath, logger)
	} else {
		catalog, err = stations.FromRemote(ctx, fetcher, cfg.Archive.HistoryURL, historyPath, logger)
	}
	if err != nil {
		return err
	}
	logger.Info("Loaded station history", zap.Int("stations", catalog.Len()))

	catalog, regionName, err := opts.selection.apply(catalog)
	if err != nil {
		return err
	}
	start := time.Date(opts.startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(opts.endYear, time.December, 31, 0, 0, 0, 0, time.UTC)
	catalog = catalog.FilterByNominalPeriod(start, end)
	logger.Info("Selected stations", zap.Int("stations", catalog.Len()), zap.String("region", regionName))
	if catalog.Len() == 0 {
		return stations.ErrNoStations
	}

	switch {
	case opts.offline:
		catalog, err = catalog.FilterByLocalAvailability(opts.dataDir, opts.startYear, opts.endYear)
	case opts.listing:
		catalog, err = catalog.FilterByListing(ctx, fetcher, base, opts.startYear, opts.endYear)
	default:
		catalog, _, err = catalog.FilterByConfirmedAvailability(ctx, orch, base, opts.startYear, opts.endYear, cfg.Download.Jobs)
	}
	if err != nil {
		return fmt.Errorf("checking availability: %w", err)
	}
	logger.Info("Stations with data for every year", zap.Int("stations", catalog.Len()))

	listPath := filepath.Join(opts.dataDir, fmt.Sprintf("%s.%d-%d.txt", opts.name, opts.startYear, opts.endYear))
	title := fmt.Sprintf("ISD-Lite stations with data %d-%d", opts.startYear, opts.endYear)
	if regionName != "" {
		title += " in " + regionName
	}
	if err := catalog.Save(title, listPath); err != nil {
		return err
	}
	logger.Info("Saved station list", zap.String("path", listPath))

	if !opts.offline {
		dl := ncei.Options{Jobs: cfg.Download.Jobs, Force: opts.refresh}
		var report *ncei.Report
		if opts.tui {
			quiet := logger.WithOptions(zap.IncreaseLevel(zapcore.ErrorLevel))
			tuiOrch := ncei.NewOrchestrator(ncei.NewFetcher(client, store, cfg.Fetcher(), quiet), quiet)
			report, err = downloadWithProgress(ctx, catalog, tuiOrch, base, opts, dl)
		} else {
			report, err = catalog.Download(ctx, orch, base, opts.dataDir, opts.startYear, opts.endYear, dl)
		}
		if err != nil {
			return fmt.Errorf("downloading: %w", err)
		}
		logger.Info("Download finished",
			zap.Int("files", len(report.Outcomes)),
			zap.Int("transferred", len(report.Transferred())),
			zap.Int("failed", len(report.Failed())),
			zap.Duration("elapsed", report.Elapsed))
		if err := report.Err(); err != nil {
			return fmt.Errorf("downloading: %w", err)
		}
	}

	policy := stations.SkipStation
	if cfg.Load.OnParseError == "abort" {
		policy = stations.Abort
	}
	loaded, err := catalog.LoadObservations(opts.dataDir, opts.startYear, opts.endYear, stations.LoadOptions{
		OnParseError: policy,
		BaseURL:      base,
		Region:       regionName,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	for _, d := range loaded.Dropped {
		logger.Warn("Station left out of dataset", zap.String("station", d.StationID), zap.Error(d.Err))
	}

	outPath := filepath.Join(opts.dataDir, fmt.Sprintf("%s.%d-%d.parquet", opts.name, opts.startYear, opts.endYear))
	if err := dataset.Write(loaded.Dataset, outPath); err != nil {
		return err
	}
	logger.Info("Wrote dataset",
		zap.String("path", outPath),
		zap.Int("stations", len(loaded.Dataset.Stations)),
		zap.Int("hours", len(loaded.Dataset.Times)),
		zap.Int("skipped_lines", loaded.Skipped))
	return nil
}

// openStore returns the configured validator store and a function that
// releases it.
func openStore(cfg *config.Config, dataDir string, logger *zap.Logger) (ncei.ValidatorStore, func(), error) {
	if cfg.Download.ValidatorStore != "sqlite" {
		return ncei.SideFileStore{}, func() {}, nil
	}
	path := cfg.Download.CacheDBPath
	if path == "" {
		path = database.DBPath(dataDir)
	}
	store, err := database.OpenValidatorStore(path)
	if err != nil {
		return nil, nil, err
	}
	pruned, err := store.Prune()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	entries, err := store.Len()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	logger.Info("Opened validator cache",
		zap.String("path", path),
		zap.Int("entries", entries),
		zap.Int("pruned", pruned))
	return store, func() { store.Close() }, nil
}

// downloadWithProgress runs the download behind the progress view. Quitting
// the view cancels the run; transfers already in flight still complete.
func downloadWithProgress(ctx context.Context, catalog *stations.Catalog, orch *ncei.Orchestrator, base string, opts options, dl ncei.Options) (*ncei.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan ncei.Progress)
	result := make(chan error, 1)
	finished := make(chan struct{})
	dl.Progress = updates

	var report *ncei.Report
	var runErr error
	go func() {
		report, runErr = catalog.Download(ctx, orch, base, opts.dataDir, opts.startYear, opts.endYear, dl)
		close(updates)
		result <- runErr
		close(finished)
	}()

	total := catalog.Len() * (opts.endYear - opts.startYear + 1)
	title := fmt.Sprintf("Downloading %d ISD-Lite files", total)
	final, err := tea.NewProgram(ui.NewModel(title, total, updates, result)).Run()
	if m, ok := final.(ui.Model); err != nil || (ok && m.Interrupted()) {
		cancel()
	}
	for range updates {
	}
	<-finished

	if err != nil {
		return report, fmt.Errorf("running progress view: %w", err)
	}
	return report, runErr
}
