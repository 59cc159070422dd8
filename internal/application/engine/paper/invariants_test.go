package paper

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/alejandrodnm/polypaper/internal/application/book"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/stretchr/testify/require"
)

// Random walk over book deltas, prints, placements and cancels; the order
// invariants must hold after every step.
func TestBroker_RandomWalkInvariants(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }

	store := book.NewStore()
	store.SetSession(domain.Session{Instrument: "eth-15m", MarketID: "m1", UpTokenID: "up", DownTokenID: "down"})
	store.ApplyFullBook("eth-15m", domain.OutcomeUp,
		[]domain.BookEntry{domain.NewBookEntry(0.48, 20), domain.NewBookEntry(0.47, 30)},
		[]domain.BookEntry{domain.NewBookEntry(0.52, 20), domain.NewBookEntry(0.53, 30)},
	)

	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.QueueAddAheadFrac = 0.5
	ledger := NewLedger(500, nil)
	b := NewBroker(cfg, store, ledger, WithClock(clock))

	rng := rand.New(rand.NewPCG(7, 11))
	ctx := context.Background()
	lastMatched := map[string]float64{}

	for i := 0; i < 2000; i++ {
		switch rng.IntN(6) {
		case 0:
			px := 0.45 + float64(rng.IntN(10))/100
			_, err := b.Place(ctx, PlaceRequest{
				Instrument: "eth-15m", MarketID: "m1", TokenID: "up", Outcome: domain.OutcomeUp,
				Price: px, Size: 1 + float64(rng.IntN(20)), QueueAhead: float64(rng.IntN(50)),
			})
			require.NoError(t, err)
		case 1:
			b.Cancel(ctx, "m1", "up")
		case 2:
			store.ApplyLastTrade("eth-15m", domain.OutcomeUp, domain.Trade{
				Side: "SELL", Price: 0.45 + float64(rng.IntN(10))/100, Size: float64(rng.IntN(10)), Timestamp: now,
			})
		default:
			store.ApplyPriceChange("eth-15m", domain.OutcomeUp, domain.PriceChangeEvent{
				LevelOK: true,
				Tick:    int64(440 + 10*rng.IntN(12)),
				Size:    float64(rng.IntN(40)),
				IsBid:   rng.IntN(2) == 0,
			})
		}

		now = now.Add(time.Duration(50+rng.IntN(400)) * time.Millisecond)
		b.Step(ctx)

		b.mu.Lock()
		for id, o := range b.open {
			require.GreaterOrEqual(t, o.queue, 0.0, "queue ahead")
			require.LessOrEqual(t, o.matched, o.original+domain.Epsilon, "overfill")
			require.GreaterOrEqual(t, o.matched, lastMatched[id], "matched went backwards")
			lastMatched[id] = o.matched
		}
		b.mu.Unlock()
		require.GreaterOrEqual(t, ledger.Cash(), 0.0)
	}

	for _, o := range ledger.Orders() {
		require.LessOrEqual(t, o.MatchedSize, o.OriginalSize+domain.Epsilon)
		require.GreaterOrEqual(t, o.MatchedSize, lastMatched[o.OrderID]-domain.Epsilon)
	}
}

func TestApplyToPosition(t *testing.T) {
	p := &domain.PositionSnapshot{TokenID: "up"}
	applyToPosition(p, 10, 0.40)
	applyToPosition(p, 10, 0.60)
	require.InDelta(t, 20.0, p.Size, 1e-9)
	require.InDelta(t, 0.50, p.AvgPrice, 1e-9)

	applyToPosition(p, -20, 0.70)
	require.Zero(t, p.Size)
	require.Zero(t, p.AvgPrice)
}

func TestConsumeDepthStopsAtLimit(t *testing.T) {
	asks := []domain.BookEntry{
		domain.NewBookEntry(0.50, 2),
		domain.NewBookEntry(0.51, 3),
		domain.NewBookEntry(0.52, 5),
	}
	got, vwap := consumeDepth(asks, 10, domain.PriceToTick(0.51))
	require.InDelta(t, 5.0, got, 1e-9)
	require.InDelta(t, (1.0+1.53)/5, vwap, 1e-9)

	got, vwap = consumeDepth(asks, 10, domain.PriceToTick(0.49))
	require.Zero(t, got)
	require.Zero(t, vwap)
}
