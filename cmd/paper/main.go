package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/adapters/notify"
	"github.com/alejandrodnm/polypaper/internal/adapters/polymarket"
	"github.com/alejandrodnm/polypaper/internal/adapters/storage"
	"github.com/alejandrodnm/polypaper/internal/adapters/telemetry"
	"github.com/alejandrodnm/polypaper/internal/application/book"
	"github.com/alejandrodnm/polypaper/internal/application/engine/paper"
	"github.com/alejandrodnm/polypaper/internal/application/risk"
	"github.com/alejandrodnm/polypaper/internal/application/session"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print the paper report from storage and exit")
	linger := flag.Duration("linger", 30*time.Second, "keep stepping this long after feeds and intents are drained (0 = until signal)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("polypaper starting",
		"config", *configPath,
		"instruments", len(cfg.Instruments),
		"sources", len(cfg.Feed.Sources),
		"step", cfg.StepInterval(),
		"starting_cash", cfg.Paper.StartingCash,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, store, notifier, cfg.Paper.StartingCash)
		return
	}

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.DataBase)
	h, closeSinks, err := newHost(cfg, store, client, notifier, *linger)
	if err != nil {
		slog.Error("failed to wire paper simulator", "err", err)
		os.Exit(1)
	}
	defer closeSinks()

	if err := h.run(ctx); err != nil {
		slog.Error("paper simulator exited with error", "err", err)
		os.Exit(1)
	}

	printExitReport(context.Background(), h, store, notifier)
	slog.Info("polypaper stopped cleanly")
}

// newHost cablea store de libros, sinks, ledger, broker, gate y executor.
// closeSinks cierra el fichero JSONL si se abrió.
func newHost(cfg *config.Config, store *storage.SQLiteStorage, client *polymarket.Client, notifier *notify.Console, linger time.Duration) (h *host, closeSinks func(), err error) {
	books := book.NewStore()
	metrics := telemetry.NewMetrics()
	sinks := telemetry.Fanout{store, metrics}
	closeSinks = func() {}
	if cfg.Telemetry.EventsPath != "" {
		jsonl, err := telemetry.OpenJSONLFile(cfg.Telemetry.EventsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("newHost: %w", err)
		}
		sinks = append(sinks, jsonl)
		closeSinks = func() { jsonl.Close() }
	}

	ledger := paper.NewLedger(cfg.Paper.StartingCash, store)
	broker := paper.NewBroker(brokerConfig(cfg), books, ledger, paper.WithEventSink(sinks))
	gate := risk.NewGate(risk.Caps{
		MaxWorstTotalUSD:     cfg.Risk.MaxWorstTotalUSD,
		MaxWorstPerMarketUSD: cfg.Risk.MaxWorstPerMarketUSD,
		MaxTradesPerSession:  cfg.Risk.MaxTradesPerSession,
		MaxPositionShares:    cfg.Risk.MaxPositionShares,
	})

	h = &host{
		cfg:      cfg,
		books:    books,
		broker:   broker,
		executor: paper.NewExecutor(broker, gate, books, sinks),
		tracker:  session.NewTracker(client, books, trackedInstruments(cfg.Instruments)),
		metrics:  metrics,
		notifier: notifier,
		bookSrc:  client,
		tradeSrc: client,
		linger:   linger,
	}
	return h, closeSinks, nil
}

func brokerConfig(cfg *config.Config) paper.Config {
	pc := paper.DefaultConfig()
	pc.StrategyID = cfg.Paper.StrategyID
	pc.StartingCash = cfg.Paper.StartingCash
	pc.Seed = cfg.Paper.Seed
	pc.PostLatency = cfg.PostLatency()
	pc.CancelRequestLatency = cfg.CancelRequestLatency()
	pc.CancelClearLatency = cfg.CancelClearLatency()
	pc.FlowBasePerSec = cfg.Paper.FlowBasePerSec
	pc.FlowDepthFracPerSec = cfg.Paper.FlowDepthFracPerSec
	pc.FlowNoiseFrac = cfg.NoiseFrac()
	pc.FlowUseBookDeltas = cfg.UseBookDeltas()
	pc.FlowFallbackMult = cfg.Paper.FlowFallbackMult
	pc.FlowRequireTradePrint = cfg.Paper.FlowRequireTradePrint
	pc.QueueAddAheadFrac = cfg.Paper.QueueAddAheadFrac
	pc.TradePrintMaxAge = cfg.TradePrintMaxAge()
	pc.TradePrintBoost = cfg.Paper.TradePrintBoost
	return pc
}

func trackedInstruments(in []config.InstrumentConfig) []session.Instrument {
	out := make([]session.Instrument, 0, len(in))
	for _, ic := range in {
		ti := session.Instrument{Key: ic.Key, Slug: ic.Slug}
		if ic.Resolved() {
			ti.Fixed = &domain.Session{
				Instrument:  ic.Key,
				MarketID:    ic.MarketID,
				UpTokenID:   ic.UpToken,
				DownTokenID: ic.DownToken,
				Slug:        ic.Slug,
			}
		}
		out = append(out, ti)
	}
	return out
}

// statsSource es lo que necesita el informe además del ledger en memoria.
type statsSource interface {
	EventCounts(ctx context.Context) (map[domain.TelemetryKind]int, error)
}

func printExitReport(ctx context.Context, h *host, store statsSource, notifier *notify.Console) {
	ledger := h.broker.Ledger()
	stats := domain.PaperStats{
		StartingCash: ledger.StartingCash(),
		Cash:         ledger.Cash(),
		Reserved:     h.broker.ReservedUSDC(),
		Orders:       ledger.Orders(),
		Positions:    ledger.Positions(),
	}
	counts, err := store.EventCounts(ctx)
	if err != nil {
		slog.Warn("could not load event counts for exit summary", "err", err)
	}
	stats.EventCounts = counts
	notifier.PrintPaperReport(stats)
}

func runReport(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, startingCash float64) {
	orders, err := store.LoadOrders(ctx)
	if err != nil {
		slog.Error("failed to load paper orders", "err", err)
		os.Exit(1)
	}
	positions, err := store.LoadPositions(ctx)
	if err != nil {
		slog.Error("failed to load paper positions", "err", err)
		os.Exit(1)
	}
	cash, ok, err := store.LatestCash(ctx)
	if err != nil {
		slog.Error("failed to load paper cash", "err", err)
		os.Exit(1)
	}
	if !ok {
		cash = startingCash
	}
	counts, err := store.EventCounts(ctx)
	if err != nil {
		slog.Error("failed to count order events", "err", err)
		os.Exit(1)
	}

	notifier.PrintPaperReport(domain.PaperStats{
		StartingCash: startingCash,
		Cash:         cash,
		Orders:       orders,
		Positions:    positions,
		EventCounts:  counts,
	})
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

var (
	_ ports.BookProvider    = (*polymarket.Client)(nil)
	_ ports.SessionProvider = (*polymarket.Client)(nil)
	_ ports.TradeProvider   = (*polymarket.Client)(nil)
	_ ports.LedgerStore     = (*storage.SQLiteStorage)(nil)
	_ ports.EventSink       = (*storage.SQLiteStorage)(nil)
	_ ports.EventSink       = (*telemetry.Metrics)(nil)
)
