package domain

import (
	"math"
	"strconv"
	"time"
)

// TicksPerUnit es la resolución de precio: 0.001 USDC por tick.
const TicksPerUnit = 1000

// Epsilon se usa en todas las comparaciones de precio y tamaño.
const Epsilon = 1e-9

// TopDepthLevels es el número de niveles que suma DepthBidTop/DepthAskTop.
const TopDepthLevels = 10

// PriceToTick convierte un precio a su clave entera exacta.
func PriceToTick(price float64) int64 {
	return int64(math.Round(price * TicksPerUnit))
}

// TickToPrice convierte una clave entera a precio.
func TickToPrice(tick int64) float64 {
	return float64(tick) / TicksPerUnit
}

// OrderBook es una copia inmutable del libro de un outcome.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
	Metrics BookMetrics
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Tick  int64
	Price float64
	Size  float64
}

// NewBookEntry construye un nivel normalizando el precio a su tick.
func NewBookEntry(price, size float64) BookEntry {
	tick := PriceToTick(price)
	return BookEntry{Tick: tick, Price: TickToPrice(tick), Size: size}
}

// BookMetrics son los valores derivados del libro. Un precio 0 significa "ausente".
type BookMetrics struct {
	BestBid     float64
	BestAsk     float64
	Mid         float64
	DepthBidTop float64
	DepthAskTop float64

	LastTradePrice float64
	LastTradeSize  float64
	LastTradeSell  bool
	LastTradeTime  time.Time // zero = sin timestamp
}

// HasLastTrade devuelve true si hubo algún print.
func (m BookMetrics) HasLastTrade() bool {
	return m.LastTradePrice > 0
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// BestBidEntry devuelve el mejor nivel bid, si existe.
func (ob OrderBook) BestBidEntry() (BookEntry, bool) {
	if len(ob.Bids) == 0 {
		return BookEntry{}, false
	}
	return ob.Bids[0], true
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve el spread del book (ask - bid).
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// BidSizeAt devuelve el tamaño visible en el bid a ese tick (0 si no hay nivel).
func (ob OrderBook) BidSizeAt(tick int64) float64 {
	for _, b := range ob.Bids {
		if b.Tick == tick {
			return math.Max(b.Size, 0)
		}
		if b.Tick < tick {
			break
		}
	}
	return 0
}

// ParsePrice convierte un string de precio a float64.
// Devuelve ok=false si el campo está mal formado o no es finito.
func ParsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
