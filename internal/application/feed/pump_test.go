package feed_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/polypaper/internal/adapters/polymarket"
	"github.com/alejandrodnm/polypaper/internal/application/book"
	"github.com/alejandrodnm/polypaper/internal/application/feed"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() *book.Store {
	s := book.NewStore()
	s.SetSession(domain.Session{
		Instrument:  "btc-15m",
		MarketID:    "m1",
		UpTokenID:   "m1-up",
		DownTokenID: "m1-down",
	})
	return s
}

const recorded = `{"event_type":"book","asset_id":"m1-up","bids":[{"price":"0.48","size":"10"}],"asks":[{"price":"0.52","size":"5"}]}
not json at all
{"event_type":"price_change","market":"m1","price_changes":[{"asset_id":"m1-up","price":"0.47","size":"3","side":"BUY"}]}
{"event_type":"book","asset_id":"other-token","bids":[{"price":"0.10","size":"1"}],"asks":[]}

{"event_type":"last_trade_price","asset_id":"m1-up","price":"0.48","size":"2","side":"SELL","timestamp":"1700000000000"}
`

func TestPump_AppliesInOrderAndCounts(t *testing.T) {
	store := newStore()
	wake := feed.NewWake()
	var observed []domain.FeedEvent
	p := feed.NewPump("test", store, polymarket.ParseMessage, wake,
		feed.WithObserver(func(ev domain.FeedEvent) { observed = append(observed, ev) }))

	st, err := p.Run(context.Background(), strings.NewReader(recorded))
	require.NoError(t, err)

	assert.Equal(t, 6, st.Lines)
	assert.Equal(t, 1, st.ParseErrors)
	assert.Equal(t, 4, st.Events)
	assert.Equal(t, 3, st.Applied)
	assert.Equal(t, 1, st.Ignored)
	assert.Len(t, observed, 3)

	snap, ok := store.Snapshot("btc-15m")
	require.True(t, ok)
	require.NotNil(t, snap.Up)
	assert.InDelta(t, 0.48, snap.Up.Metrics.BestBid, 1e-9)
	assert.InDelta(t, 13.0, snap.Up.Metrics.DepthBidTop, 1e-9)
	assert.InDelta(t, 2.0, snap.Up.Metrics.LastTradeSize, 1e-9)
	assert.True(t, snap.Up.Metrics.LastTradeSell)

	select {
	case <-wake.C():
	default:
		t.Fatal("expected a wake after the first book")
	}
	assert.Equal(t, []string{"btc-15m"}, wake.Drain())
}

func TestPump_NoWakeWhenBestUnchanged(t *testing.T) {
	store := newStore()
	store.ApplyFullBook("btc-15m", domain.OutcomeUp,
		[]domain.BookEntry{domain.NewBookEntry(0.48, 10)},
		[]domain.BookEntry{domain.NewBookEntry(0.52, 5)},
	)
	wake := feed.NewWake()
	p := feed.NewPump("deep", store, polymarket.ParseMessage, wake)

	msg := `{"event_type":"price_change","market":"m1","price_changes":[{"asset_id":"m1-up","price":"0.45","size":"7","side":"BUY"}]}`
	_, err := p.Run(context.Background(), strings.NewReader(msg))
	require.NoError(t, err)

	select {
	case <-wake.C():
		t.Fatal("a deeper level must not wake the consumer")
	default:
	}
	assert.Nil(t, wake.Drain())
}

func TestPump_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := feed.NewPump("cancelled", newStore(), polymarket.ParseMessage, nil)
	st, err := p.Run(ctx, strings.NewReader(recorded))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, st.Lines)
}

func TestPump_LineDelayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := feed.NewPump("slow", newStore(), polymarket.ParseMessage, nil, feed.WithLineDelay(time.Hour))
	_, err := p.Run(ctx, strings.NewReader(recorded))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWake_Coalesces(t *testing.T) {
	w := feed.NewWake()
	w.Signal("eth-15m")
	w.Signal("btc-15m")
	w.Signal("eth-15m")

	<-w.C()
	select {
	case <-w.C():
		t.Fatal("signals must coalesce into one notification")
	default:
	}
	assert.Equal(t, []string{"btc-15m", "eth-15m"}, w.Drain())
	assert.Nil(t, w.Drain())
}
