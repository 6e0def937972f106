package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/cmd/common"
	"github.com/ducminhle1904/trading-risk-engine/internal/config"
	"github.com/ducminhle1904/trading-risk-engine/internal/engine"
	engerrors "github.com/ducminhle1904/trading-risk-engine/internal/errors"
	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/internal/notifications"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/trading-risk-engine/pkg/reporting"
	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

const appName = "risk-engine"

type runOptions struct {
	FeedPath    string
	Iterations  int
	Interval    time.Duration
	XLSXPath    string
	CSVPath     string
	ReportDir   string
	MetricsAddr string
	Out         io.Writer
}

func main() {
	fs := flag.CommandLine
	commonFlags := common.RegisterCommonFlags(fs)

	var (
		feedPath    = fs.String("feed", "", "CSV signal feed: ticker,price,score[,type[,tick]]")
		iterations  = fs.Int("iterations", 1, "Number of passes over the feed")
		interval    = fs.Duration("interval", 0, "Pause between passes (e.g. 5s, 1m)")
		statePath   = fs.String("state", "", "State file (overrides config)")
		journalPath = fs.String("journal", "", "SQLite trade journal (overrides config)")
		xlsxPath    = fs.String("xlsx", "", "Write the trade log to this XLSX file")
		csvPath     = fs.String("csv", "", "Write the trade log to this CSV file")
		reportDir   = fs.String("report-dir", "", "Write timestamped XLSX and JSON reports into this directory")
		metricsAddr = fs.String("metrics-addr", "", "Serve /metrics and /health on this address (overrides config)")
	)

	usage := common.NewUsageFormatter(appName, "Portfolio risk and exit management engine").
		AddExample(appName+" -feed signals.csv", "Replay a signal feed once against a fresh portfolio").
		AddExample(appName+" -config risk.yaml -feed signals.csv -iterations 10 -interval 5s -xlsx out/trades.xlsx",
			"Replay ten passes, persisting state and exporting trades")
	fs.Usage = usage.Usage(fs)
	flag.Parse()

	if *commonFlags.Version {
		common.PrintVersion(appName)
		return
	}

	if err := common.LoadEnvFile(*commonFlags.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v, using system environment\n", err)
	}

	cfg, err := config.Load(*commonFlags.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if *statePath != "" {
		cfg.Storage.StateFile = *statePath
	}
	if *journalPath != "" {
		cfg.Storage.JournalPath = *journalPath
	}
	if *metricsAddr != "" {
		cfg.Monitoring.MetricsAddr = *metricsAddr
	}
	if *commonFlags.Verbose {
		cfg.Logging.Level = "DEBUG"
		cfg.Logging.Detailed = true
	}

	validator := common.NewFlagValidator().
		ValidateFile("feed", *feedPath, true).
		ValidateInt("iterations", *iterations, 1, 1_000_000).
		ValidateDuration("interval", *interval).
		ValidateExtension("xlsx", *xlsxPath, ".xlsx")
	if err := validator.GetError(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n\n", err)
		fs.Usage()
		os.Exit(2)
	}

	if err := logger.Init(cfg.LogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ logger init: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, runOptions{
		FeedPath:    *feedPath,
		Iterations:  *iterations,
		Interval:    *interval,
		XLSXPath:    *xlsxPath,
		CSVPath:     *csvPath,
		ReportDir:   *reportDir,
		MetricsAddr: cfg.Monitoring.MetricsAddr,
		Out:         os.Stdout,
	})
	stop()

	flushTracer(logger.Shutdown, os.Stderr)

	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// flushTracer gives the tracer five seconds to export pending spans and
// reports a failed flush on w
func flushTracer(shutdown func(context.Context) error, w io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		fmt.Fprintf(w, "⚠️  tracer flush failed: %v\n", err)
	}
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}

	defaultType, err := types.ParsePositionType(cfg.Engine.DefaultPositionType)
	if err != nil {
		return err
	}
	batches, err := LoadFeed(opts.FeedPath, defaultType)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.restore(ctx); err != nil {
		return err
	}
	if err := a.startScheduler(ctx); err != nil {
		return err
	}
	a.startServer(ctx, opts.MetricsAddr)

	logger.Info(ctx, "Engine started",
		"version", common.GetFullVersion(),
		"feed", opts.FeedPath,
		"batches", len(batches),
		"iterations", opts.Iterations,
		"env", cfg.Environment)

	reporter := reporting.NewConsoleReporter()
	reporter.RenderStatus(opts.Out, a.engine.Status())

	completed := 0
replay:
	for i := 0; i < opts.Iterations; i++ {
		for _, batch := range batches {
			if ctx.Err() != nil {
				break replay
			}
			if err := processBatch(ctx, a.engine, batch); err != nil {
				if ctx.Err() != nil {
					break replay
				}
				return err
			}
		}
		completed++

		if opts.Interval > 0 && i < opts.Iterations-1 {
			select {
			case <-ctx.Done():
				break replay
			case <-time.After(opts.Interval):
			}
		}
	}

	if ctx.Err() != nil {
		logger.Warn(context.Background(), "Interrupted, saving state", "completed_iterations", completed)
	}
	// the run context may be cancelled; the final save must still happen
	if err := a.save(context.Background()); err != nil {
		return err
	}

	trades := a.portfolio.TradeHistory()
	status := a.engine.Status()
	reporter.RenderStatus(opts.Out, status)
	if len(trades) > 0 {
		reporter.RenderTrades(opts.Out, trades)
	}
	reporter.RenderSummary(opts.Out, reporting.Summary{
		Iterations: completed,
		Snapshot:   status,
		Trades:     trades,
	})
	a.notify(context.Background(), notifications.LevelSuccess, fmt.Sprintf(
		"Run finished: %d iterations, %d trades, %d open positions, net P/L $%s",
		completed, len(trades), status.NumPositions, reporting.NetPnL(trades).StringFixed(2)))

	return writeReports(a, opts, trades)
}

// processBatch submits every row as an entry candidate, then evaluates exits
// against the batch's quotes
func processBatch(ctx context.Context, eng *engine.Engine, batch Batch) error {
	quotes := make(map[string]types.Quote, len(batch.Rows))
	for _, row := range batch.Rows {
		q := row.Quote
		quotes[q.Ticker] = q

		if _, err := eng.Enter(ctx, engine.EntryRequest{
			Ticker:       q.Ticker,
			Price:        q.Price,
			SignalScore:  q.SignalScore,
			PositionType: q.PositionType,
		}); err != nil {
			if engerrors.CategoryOf(err) == engerrors.ErrorCategoryValidation {
				logger.Warn(ctx, "Feed row skipped", "ticker", q.Ticker, "error", err.Error())
				continue
			}
			return err
		}
	}

	prices, signals := splitQuotes(quotes)
	results, err := eng.CheckExits(ctx, prices, signals)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.Closed {
			logger.Warn(ctx, "Exit signal not executed", "ticker", r.Ticker, "reason", string(r.Signal.Reason))
		}
	}
	return nil
}

// splitQuotes separates the latest price and signal score per ticker
func splitQuotes(quotes map[string]types.Quote) (map[string]decimal.Decimal, map[string]float64) {
	prices := make(map[string]decimal.Decimal, len(quotes))
	signals := make(map[string]float64, len(quotes))
	for ticker, q := range quotes {
		prices[ticker] = q.Price
		signals[ticker] = q.SignalScore
	}
	return prices, signals
}

func writeReports(a *app, opts runOptions, trades []portfolio.TradeRecord) error {
	if opts.XLSXPath != "" {
		if err := reporting.WriteTradesXLSX(opts.XLSXPath, trades); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		fmt.Fprintf(opts.Out, "📄 Trades written to %s\n", opts.XLSXPath)
	}
	if opts.CSVPath != "" {
		if err := reporting.WriteTradesCSV(opts.CSVPath, trades); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		fmt.Fprintf(opts.Out, "📄 Trades written to %s\n", opts.CSVPath)
	}
	if opts.ReportDir != "" {
		now := time.Now()
		xlsx := reporting.ReportPath(opts.ReportDir, "trades", "xlsx", now)
		if err := reporting.WriteTradesXLSX(xlsx, trades); err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		report := reporting.StatusReport{
			Snapshot:   a.portfolio.GetPortfolioStatus(),
			Metrics:    a.portfolio.GetRiskMetrics(),
			Trades:     trades,
			ExitPolicy: a.engine.ExitStrategy().ToMap(),
		}
		status := reporting.ReportPath(opts.ReportDir, "status", "json", now)
		if err := reporting.WriteStatusJSON(status, report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(opts.Out, "📄 Reports written to %s\n", opts.ReportDir)
	}
	return nil
}
