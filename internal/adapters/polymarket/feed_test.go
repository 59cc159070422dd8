package polymarket_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/polypaper/internal/adapters/polymarket"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_BookObject(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"tok1","market":"0xm","timestamp":"1700000000123",
		"bids":[{"price":"0.47","size":"10"},{"price":"0.48","size":"5"},{"price":"NaN","size":"3"}],
		"asks":[{"price":"0.53","size":"7"},{"price":"0.52","size":"x"}]}`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)

	book, ok := events[0].(domain.FullBookEvent)
	require.True(t, ok)
	assert.Equal(t, "tok1", book.TokenID)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, int64(480), book.Bids[0].Tick, "bids de mayor a menor")
	require.Len(t, book.Asks, 1)
	assert.Equal(t, int64(530), book.Asks[0].Tick)
	assert.Equal(t, time.UnixMilli(1700000000123), book.Timestamp)
}

func TestParseMessage_BookToleratesNumericAndBadLevels(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"tok1","timestamp":1700000000123,
		"bids":[{"price":"0.47","size":5},{"price":0.48,"size":"2"},42,{"price":{"x":1},"size":"9"}],
		"asks":"not-a-list","sells":[{"price":"0.55","size":"1"}]}`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1, "un campo malo no tira el snapshot")

	book := events[0].(domain.FullBookEvent)
	assert.Equal(t, time.UnixMilli(1700000000123), book.Timestamp)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, int64(480), book.Bids[0].Tick)
	assert.InDelta(t, 5.0, book.Bids[1].Size, 1e-9)
	require.Len(t, book.Asks, 1, "asks ilegible cuenta como ausente y entra el alias")
	assert.Equal(t, int64(550), book.Asks[0].Tick)
}

func TestParseMessage_PriceChangeKeepsGoodDeltas(t *testing.T) {
	raw := `{"event_type":"price_change","timestamp":"1700000000000","price_changes":[
		{"asset_id":"up","price":0.6,"size":"4","side":"BUY"},
		"garbage",
		{"asset_id":"down","price":"0.41","size":3,"side":"SELL","best_ask":0.41}
	]}`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 2)

	up := events[0].(domain.PriceChangeEvent)
	assert.Equal(t, "up", up.TokenID)
	assert.True(t, up.LevelOK)
	assert.Equal(t, int64(600), up.Tick)

	down := events[1].(domain.PriceChangeEvent)
	assert.Equal(t, "down", down.TokenID)
	assert.InDelta(t, 3.0, down.Size, 1e-9)
	assert.InDelta(t, 0.41, down.BestAsk, 1e-9)
}

func TestParseMessage_LastTradeNumericFields(t *testing.T) {
	raw := `{"event_type":"last_trade_price","asset_id":"up","price":0.47,"size":10,"side":true,"timestamp":1700000001000}`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)
	lt := events[0].(domain.LastTradeEvent)
	assert.InDelta(t, 0.47, lt.Trade.Price, 1e-9)
	assert.Empty(t, lt.Trade.Side, "side no string se pierde solo")
	assert.Equal(t, time.UnixMilli(1700000001000), lt.Trade.Timestamp)
}

func TestParseMessage_BuysSellsAlias(t *testing.T) {
	raw := `[{"event_type":"book","asset_id":"tok1","buys":[{"price":"0.40","size":"1"}],"sells":[{"price":"0.60","size":"2"}]}]`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)
	book := events[0].(domain.FullBookEvent)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Timestamp.IsZero())
}

func TestParseMessage_PriceChangeExpands(t *testing.T) {
	raw := `{"event_type":"price_change","market":"0xm","timestamp":"1700000000000","price_changes":[
		{"asset_id":"up","price":"0.51","size":"12","side":"BUY","best_bid":"0.51","best_ask":"0.53"},
		{"asset_id":"down","price":"0.49","size":"0","side":"SELL"},
		{"asset_id":"up","price":"oops","size":"1","side":"BUY","best_bid":"0.50"},
		{"asset_id":"up","price":"oops","size":"1","side":"BUY"}
	]}`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 3, "un delta sin nivel ni best no genera evento")

	first := events[0].(domain.PriceChangeEvent)
	assert.Equal(t, "up", first.TokenID)
	assert.True(t, first.LevelOK)
	assert.True(t, first.IsBid)
	assert.Equal(t, int64(510), first.Tick)
	assert.InDelta(t, 12.0, first.Size, 1e-9)
	assert.InDelta(t, 0.53, first.BestAsk, 1e-9)

	removal := events[1].(domain.PriceChangeEvent)
	assert.False(t, removal.IsBid)
	assert.True(t, removal.LevelOK)
	assert.Zero(t, removal.Size)

	bestOnly := events[2].(domain.PriceChangeEvent)
	assert.False(t, bestOnly.LevelOK)
	assert.InDelta(t, 0.50, bestOnly.BestBid, 1e-9)
}

func TestParseMessage_LegacyPriceChange(t *testing.T) {
	raw := `{"event_type":"price_change","asset_id":"up","price":"0.44","size":"3","side":"buy"}`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)
	pc := events[0].(domain.PriceChangeEvent)
	assert.Equal(t, "up", pc.TokenID)
	assert.True(t, pc.IsBid)
	assert.Equal(t, int64(440), pc.Tick)
}

func TestParseMessage_LastTrade(t *testing.T) {
	raw := `[{"event_type":"last_trade_price","asset_id":"up","price":"0.47","size":"25","side":"sell","timestamp":"1700000001000"},
		{"event_type":"last_trade_price","asset_id":"up","price":""}]`

	events, err := polymarket.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)

	lt := events[0].(domain.LastTradeEvent)
	assert.Equal(t, "up", lt.AssetID())
	assert.True(t, lt.Trade.IsSell())
	assert.InDelta(t, 25.0, lt.Trade.Size, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000001000), lt.Trade.Timestamp)
}

func TestParseMessage_IgnoresUnknownAndGarbage(t *testing.T) {
	events, err := polymarket.ParseMessage([]byte(`[{"event_type":"tick_size_change","asset_id":"up"},{"foo":1},42]`))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = polymarket.ParseMessage([]byte("   "))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = polymarket.ParseMessage([]byte("PONG"))
	assert.Error(t, err)
}
