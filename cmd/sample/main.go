package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/factory"
	"github.com/lychee-technology/ingest/internal"
	"github.com/lychee-technology/ingest/internal/worker"
	"go.uber.org/zap"
)

func main() {
	// Command line flags
	configFile := flag.String("config", "", "Path to a YAML or JSON config file")
	symbols := flag.String("symbols", "AAPL.US,MSFT.US", "Comma separated symbols to record")
	symbolsFile := flag.String("symbols-file", "", "File with one symbol per line (overrides -symbols)")
	from := flag.String("from", "", "First date to fetch (YYYY-MM-DD); defaults to one year back")
	mode := flag.String("mode", "pool", "Scheduling mode: pool or pipeline")
	force := flag.Bool("force", false, "Replace rows that are already stored")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	// Setup logging
	logCfg := zap.NewProductionConfig()
	logCfg.Encoding = "console"
	if *verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		logCfg.Development = true
	}
	logger, err := logCfg.Build()
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	config, err := loadConfig(*configFile)
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	list := parseSymbols(*symbols)
	if *symbolsFile != "" {
		data, err := os.ReadFile(*symbolsFile)
		if err != nil {
			sugar.Fatalf("Failed to read symbols file: %v", err)
		}
		list = parseSymbols(string(data))
	}
	if len(list) == 0 {
		sugar.Error("Error: no symbols to record")
		flag.Usage()
		os.Exit(1)
	}

	start := time.Now().UTC().AddDate(-1, 0, 0)
	if *from != "" {
		if start, err = internal.SanitizeDate(*from); err != nil {
			sugar.Fatalf("Invalid -from date: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infof("Opening stores under %s (%s)", config.Storage.DataDir, config.Storage.Dialect)
	in, err := factory.NewIngestorWithConfig(ctx, config)
	if err != nil {
		sugar.Fatalf("Failed to create ingestor: %v", err)
	}
	defer in.Close()

	if _, ok := in.Definition(kdataTable); !ok {
		if err := in.Register(ctx, "eod", kdataDefinition()).Err(); err != nil {
			sugar.Fatalf("Failed to register %s: %v", kdataTable, err)
		}
	}

	recorder := factory.NewRecorder(config, factory.NewFetchClient(config), in)
	units := make([]internal.Unit, len(list))
	for i, s := range list {
		units[i] = kdataUnit(s, start, *force)
	}

	sugar.Infof("Recording %d symbols since %s in %s mode", len(units), start.Format("2006-01-02"), *mode)
	began := time.Now()
	var summary runSummary
	switch *mode {
	case "pool":
		summary, err = runPool(ctx, config, recorder, units)
	case "pipeline":
		summary, err = runPipeline(ctx, config, recorder, units)
	default:
		sugar.Fatalf("Unknown mode: %s. Supported modes: pool, pipeline", *mode)
	}
	if err != nil {
		sugar.Warnf("Some units failed: %v", err)
	}
	summary.duration = time.Since(began)
	printSummary(summary, sugar)

	printLatest(ctx, in, list[0], sugar)

	if err := archiveStores(ctx, config, in, sugar); err != nil {
		sugar.Errorf("Archive failed: %v", err)
		os.Exit(1)
	}
	if summary.failed > 0 {
		os.Exit(1)
	}
}

func loadConfig(path string) (*ingest.Config, error) {
	if path != "" {
		return ingest.LoadConfig(path)
	}
	config := ingest.DefaultConfig()
	config.ApplyEnv()
	return config, config.Validate()
}

type runSummary struct {
	units    int
	saved    int
	skipped  int
	failed   int
	inserted int
	replaced int
	duration time.Duration
}

func (s *runSummary) add(res *internal.RecordResult, err error) {
	s.units++
	switch {
	case err != nil || res == nil:
		s.failed++
	case res.Skipped:
		s.skipped++
	default:
		s.saved++
		if res.Save != nil {
			s.inserted += res.Save.Inserted
			s.replaced += res.Save.Replaced
		}
	}
}

// runPool records every unit on a bounded worker pool.
func runPool(ctx context.Context, config *ingest.Config, recorder *internal.Recorder, units []internal.Unit) (runSummary, error) {
	var summary runSummary
	results, err := recorder.RecordAll(ctx, worker.NewPool(config.Worker.PoolSize), units)
	for _, res := range results {
		var unitErr error
		if res == nil {
			unitErr = fmt.Errorf("unit failed")
		}
		summary.add(res, unitErr)
	}
	return summary, err
}

// runPipeline shards units across producers and records them from a bounded queue.
func runPipeline(ctx context.Context, config *ingest.Config, recorder *internal.Recorder, units []internal.Unit) (runSummary, error) {
	var (
		summary runSummary
		shards  = worker.Shard(units, config.Worker.Producers)
		results = make(chan struct {
			res *internal.RecordResult
			err error
		}, len(units))
	)
	pc := &worker.ProducerConsumer[internal.Unit]{
		Producers: len(shards),
		Consumers: config.Worker.Consumers,
		QueueSize: config.Worker.QueueSize,
	}
	err := pc.Run(ctx,
		func(ctx context.Context, shard int, out chan<- internal.Unit) error {
			for _, u := range shards[shard] {
				if err := worker.Emit(ctx, out, u); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context, u internal.Unit) error {
			res, err := recorder.Record(ctx, u)
			results <- struct {
				res *internal.RecordResult
				err error
			}{res, err}
			return err
		},
	)
	close(results)
	for r := range results {
		summary.add(r.res, r.err)
	}
	return summary, err
}

func printSummary(s runSummary, logger *zap.SugaredLogger) {
	logger.Info("Record Summary")
	logger.Infof("  Units:     %d", s.units)
	logger.Infof("  Saved:     %d", s.saved)
	logger.Infof("  Skipped:   %d", s.skipped)
	logger.Infof("  Failed:    %d", s.failed)
	logger.Infof("  Inserted:  %d rows", s.inserted)
	logger.Infof("  Replaced:  %d rows", s.replaced)
	logger.Infof("  Duration:  %v", s.duration)
}

// printLatest shows the five most recent bars of symbol.
func printLatest(ctx context.Context, in ingest.Ingestor, symbol string, logger *zap.SugaredLogger) {
	code, _ := splitSymbol(symbol)
	res, err := in.Query(ctx, &ingest.QueryRequest{
		Table:   kdataTable,
		Code:    code,
		Columns: []string{"timestamp", "close", "volume"},
		Order:   []ingest.OrderBy{{Field: "timestamp", SortOrder: ingest.SortOrderDesc}},
		Limit:   5,
		Shape:   ingest.ShapeDict,
	})
	if err != nil {
		logger.Errorf("Latest bars query failed: %v", err)
		return
	}
	logger.Infof("Latest %d bars for %s:", len(res.Records), symbol)
	for _, rec := range res.Records {
		ts, _ := rec["timestamp"].(time.Time)
		logger.Infof("  %s close=%v volume=%v", ts.Format("2006-01-02"), rec["close"], rec["volume"])
	}
}

// archiveStores uploads every provider store when archiving is enabled.
func archiveStores(ctx context.Context, config *ingest.Config, in ingest.Ingestor, logger *zap.SugaredLogger) error {
	uploader, err := factory.NewArchiver(ctx, config)
	if err != nil || uploader == nil {
		return err
	}
	if err := uploader.EnsureBucket(ctx); err != nil {
		return err
	}
	results, err := uploader.UploadAll(ctx, in.StorePaths())
	for _, r := range results {
		logger.Infof("Archived %s store to %s (%d bytes)", r.Provider, r.URI(), r.Bytes)
	}
	return err
}
