package paper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polypaper/internal/application/book"
	"github.com/alejandrodnm/polypaper/internal/application/engine/paper"
	"github.com/alejandrodnm/polypaper/internal/application/risk"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/stretchr/testify/require"
)

const instrument = "btc-15m"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.OrderTelemetry
}

func (s *recordingSink) Emit(_ context.Context, ev domain.OrderTelemetry) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Kinds() []domain.TelemetryKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TelemetryKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *recordingSink) Last(kind domain.TelemetryKind) (domain.OrderTelemetry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == kind {
			return s.events[i], true
		}
	}
	return domain.OrderTelemetry{}, false
}

func session(market string) domain.Session {
	return domain.Session{
		Instrument:  instrument,
		MarketID:    market,
		UpTokenID:   market + "-up",
		DownTokenID: market + "-down",
	}
}

type fixture struct {
	clock    *fakeClock
	store    *book.Store
	ledger   *paper.Ledger
	broker   *paper.Broker
	sink     *recordingSink
	gate     *risk.Gate
	executor *paper.Executor
}

// newFixture builds a broker over a live book store with a deterministic
// clock and noise-free flow; mutate tweaks the config before construction.
func newFixture(t *testing.T, mutate func(*paper.Config)) *fixture {
	t.Helper()
	cfg := paper.DefaultConfig()
	cfg.FlowNoiseFrac = 0
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		clock: newClock(),
		store: book.NewStore(),
		sink:  &recordingSink{},
		gate:  risk.NewGate(risk.DefaultCaps()),
	}
	f.store.SetSession(session("m1"))
	f.ledger = paper.NewLedger(cfg.StartingCash, nil)
	f.broker = paper.NewBroker(cfg, f.store, f.ledger,
		paper.WithClock(f.clock.Now),
		paper.WithEventSink(f.sink),
	)
	f.executor = paper.NewExecutor(f.broker, f.gate, f.store, f.sink)
	return f
}

func (f *fixture) setUpBook(bids, asks []domain.BookEntry) {
	f.store.ApplyFullBook(instrument, domain.OutcomeUp, bids, asks)
}

func (f *fixture) placeUp(t *testing.T, market string, price, size, queue float64) string {
	t.Helper()
	id, err := f.broker.Place(context.Background(), paper.PlaceRequest{
		Instrument: instrument,
		MarketID:   market,
		TokenID:    market + "-up",
		Outcome:    domain.OutcomeUp,
		Price:      price,
		Size:       size,
		QueueAhead: queue,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) order(t *testing.T, id string) domain.OrderSnapshot {
	t.Helper()
	o, ok := f.ledger.Order(id)
	require.True(t, ok)
	return o
}

func lvl(price, size float64) domain.BookEntry {
	return domain.NewBookEntry(price, size)
}

func levels(entries ...domain.BookEntry) []domain.BookEntry { return entries }
