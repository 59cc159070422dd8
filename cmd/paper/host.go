package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/adapters/notify"
	"github.com/alejandrodnm/polypaper/internal/adapters/polymarket"
	"github.com/alejandrodnm/polypaper/internal/adapters/telemetry"
	"github.com/alejandrodnm/polypaper/internal/application/book"
	"github.com/alejandrodnm/polypaper/internal/application/engine/paper"
	"github.com/alejandrodnm/polypaper/internal/application/feed"
	"github.com/alejandrodnm/polypaper/internal/application/session"
	"github.com/alejandrodnm/polypaper/internal/ports"
	"golang.org/x/sync/errgroup"
)

const (
	statusInterval  = 10 * time.Second
	refreshInterval = 5 * time.Second
	// Gamma tarda unos segundos en publicar el evento de la ventana nueva.
	windowGrace = 2 * time.Second
)

// host cablea feed, broker y executor y conduce el loop de Step.
type host struct {
	cfg      *config.Config
	books    *book.Store
	broker   *paper.Broker
	executor *paper.Executor
	tracker  *session.Tracker
	metrics  *telemetry.Metrics
	notifier *notify.Console
	bookSrc  ports.BookProvider
	tradeSrc ports.TradeProvider
	linger   time.Duration

	// acumulado desde el último status
	since     paper.StepResult
	skips     atomic.Int64 // lo incrementa la goroutine de intents
	rollovers []string
}

func (h *host) run(ctx context.Context) error {
	rolls, err := h.refreshSessions(ctx)
	if err != nil && len(h.books.Instruments()) == 0 {
		return fmt.Errorf("host.run: no session could be resolved: %w", err)
	}
	h.rollover(ctx, rolls)

	if h.cfg.Telemetry.MetricsAddr != "" {
		srv := h.serveMetrics(h.cfg.Telemetry.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	wake := feed.NewWake()
	feedsDone := h.startFeeds(ctx, wake)
	intentsDone := h.startIntents(ctx)

	stepTick := time.NewTicker(h.cfg.StepInterval())
	defer stepTick.Stop()
	statusTick := time.NewTicker(statusInterval)
	defer statusTick.Stop()
	refreshTick := time.NewTicker(refreshInterval)
	defer refreshTick.Stop()
	windowTimer := time.NewTimer(untilNextWindow(time.Now()))
	defer windowTimer.Stop()

	slog.Info("paper: simulator running, press Ctrl+C to exit")

	var lingerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("paper: stopped (signal)")
			return nil

		case <-wake.C():
			wake.Drain()
			h.step(ctx)

		case <-stepTick.C:
			h.step(ctx)

		case <-refreshTick.C:
			rolls, _ := h.refreshSessions(ctx)
			h.rollover(ctx, rolls)

		case <-windowTimer.C:
			// rollover en el borde de la ventana sin esperar al ticker
			rolls, _ := h.refreshSessions(ctx)
			h.rollover(ctx, rolls)
			windowTimer.Reset(untilNextWindow(time.Now()))

		case <-statusTick.C:
			h.printStatus()

		case err := <-feedsDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("paper: feed source failed", "err", err)
			}
			feedsDone = nil
			lingerC = h.maybeLinger(feedsDone, intentsDone)

		case err := <-intentsDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("paper: intent replay failed", "err", err)
			}
			intentsDone = nil
			lingerC = h.maybeLinger(feedsDone, intentsDone)

		case <-lingerC:
			h.step(ctx)
			slog.Info("paper: inputs drained, stopping", "linger", h.linger)
			return nil
		}
	}
}

// untilNextWindow es la espera hasta el próximo borde de ventana más windowGrace.
func untilNextWindow(now time.Time) time.Duration {
	return session.NextWindow(now).Sub(now) + windowGrace
}

// maybeLinger arranca la cuenta atrás de salida cuando ya no quedan entradas.
func (h *host) maybeLinger(feeds, intents <-chan error) <-chan time.Time {
	if feeds != nil || intents != nil || h.linger <= 0 {
		return nil
	}
	return time.After(h.linger)
}

func (h *host) step(ctx context.Context) {
	res := h.broker.Step(ctx)
	h.since.Opened += res.Opened
	h.since.Fills += res.Fills
	h.since.Cancelled += res.Cancelled
	h.since.Removed += res.Removed

	ledger := h.broker.Ledger()
	h.metrics.SetLedger(ledger.Cash(), h.broker.ReservedUSDC(), h.broker.OpenOrders())
}

func (h *host) printStatus() {
	ledger := h.broker.Ledger()
	h.notifier.PrintPaperStatus(notify.PaperStatusInput{
		Now:        time.Now(),
		OpenOrders: h.broker.OpenOrders(),
		Cash:       ledger.Cash(),
		Reserved:   h.broker.ReservedUSDC(),
		Opened:     h.since.Opened,
		Fills:      h.since.Fills,
		Cancelled:  h.since.Cancelled,
		Skips:      int(h.skips.Swap(0)),
		Rollovers:  h.rollovers,
	})
	h.since = paper.StepResult{}
	h.rollovers = nil
}

// refreshSessions resuelve las sesiones y, si hace falta, carga los libros
// nuevos por REST antes de que llegue el feed.
func (h *host) refreshSessions(ctx context.Context) ([]session.Rollover, error) {
	rolls, err := h.tracker.Refresh(ctx)
	if len(rolls) > 0 && h.cfg.Feed.BootstrapBooks {
		h.bootstrap(ctx, rolls)
	}
	return rolls, err
}

// rollover cancela lo que quedó en el mercado anterior.
func (h *host) rollover(ctx context.Context, rolls []session.Rollover) {
	for _, r := range rolls {
		h.rollovers = append(h.rollovers, r.String())
		if r.From == "" {
			continue
		}
		n := h.executor.OnRollover(ctx, r.From)
		slog.Info("paper: session rollover",
			"instrument", r.Instrument,
			"from", r.From,
			"to", r.To,
			"cancels", n,
		)
	}
}

func (h *host) bootstrap(ctx context.Context, rolls []session.Rollover) {
	var tokens []string
	for _, r := range rolls {
		sess, ok := h.tracker.Current(r.Instrument)
		if !ok {
			continue
		}
		tokens = append(tokens, sess.UpTokenID, sess.DownTokenID)
	}
	if len(tokens) == 0 {
		return
	}

	books, err := h.bookSrc.FetchOrderBooks(ctx, tokens)
	if err != nil {
		slog.Warn("paper: book bootstrap incomplete", "err", err, "tokens", len(tokens), "books", len(books))
	}
	applied := 0
	for _, ev := range books {
		if inst, _ := h.books.Apply(ev); inst != "" {
			applied++
		}
	}
	for _, tok := range tokens {
		inst, outcome, ok := h.books.Resolve(tok)
		if !ok {
			continue
		}
		trade, ok, err := h.tradeSrc.FetchLastTrade(ctx, tok)
		if err != nil {
			slog.Debug("paper: last trade bootstrap failed", "token", tok, "err", err)
			continue
		}
		if ok {
			h.books.ApplyLastTrade(inst, outcome, trade)
		}
	}
	for _, tok := range tokens {
		inst, _, ok := h.books.Resolve(tok)
		if !ok {
			continue
		}
		snap, ok := h.books.Snapshot(inst)
		if !ok {
			continue
		}
		if ob, ok := snap.OutcomeBook(tok); ok {
			slog.Debug("paper: book ready", "token", tok, "mid", ob.Midpoint(), "spread", ob.Spread())
		}
	}
	slog.Info("paper: books bootstrapped", "tokens", len(tokens), "books", len(books), "applied", applied)
}

// startFeeds lanza un pump por fuente. El canal recibe el primer error (o
// nil) cuando todas terminaron.
func (h *host) startFeeds(ctx context.Context, wake *feed.Wake) <-chan error {
	if len(h.cfg.Feed.Sources) == 0 {
		return nil
	}
	done := make(chan error, 1)

	var g errgroup.Group
	for _, path := range h.cfg.Feed.Sources {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("host.startFeeds: %w", err)
			}
			defer f.Close()

			p := feed.NewPump(path, h.books, polymarket.ParseMessage, wake,
				feed.WithObserver(h.metrics.ObserveFeed),
				feed.WithLineDelay(h.cfg.LineDelay()),
			)
			_, err = p.Run(ctx, f)
			return err
		})
	}
	go func() { done <- g.Wait() }()
	return done
}

// startIntents reproduce el fichero de intents, si hay uno.
func (h *host) startIntents(ctx context.Context) <-chan error {
	if h.cfg.Feed.Intents == "" {
		return nil
	}
	done := make(chan error, 1)

	go func() {
		f, err := os.Open(h.cfg.Feed.Intents)
		if err != nil {
			done <- fmt.Errorf("host.startIntents: %w", err)
			return
		}
		intents, err := feed.ReadIntents(f)
		f.Close()
		if err != nil {
			done <- err
			return
		}

		slog.Info("paper: replaying intents", "count", len(intents), "path", h.cfg.Feed.Intents)
		for _, si := range intents {
			if si.After > 0 {
				select {
				case <-ctx.Done():
					done <- ctx.Err()
					return
				case <-time.After(si.After):
				}
			}
			h.submit(ctx, si.Intent)
		}
		done <- nil
	}()
	return done
}

func (h *host) submit(ctx context.Context, in paper.Intent) {
	res, err := h.executor.Submit(ctx, in)
	if err != nil {
		slog.Warn("paper: intent rejected", "instrument", in.Instrument, "outcome", in.Outcome, "err", err)
		return
	}
	if res.Action == paper.ActionSkipped {
		h.skips.Add(1)
	}
	slog.Debug("paper: intent applied",
		"instrument", in.Instrument,
		"outcome", in.Outcome,
		"action", res.Action,
		"order", res.OrderID,
	)
}

func (h *host) serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("paper: metrics server stopped", "err", err)
		}
	}()
	slog.Info("paper: serving metrics", "addr", addr)
	return srv
}
