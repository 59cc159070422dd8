package risk

import (
	"fmt"
	"math"
	"sync"
)

// Caps are the four placement limits. A zero or negative cap disables it,
// including MaxTradesPerSession: 0 means unlimited here, not "no trades".
// config never builds a zero cap, it maps 0 to the default.
type Caps struct {
	MaxWorstTotalUSD     float64
	MaxWorstPerMarketUSD float64
	MaxTradesPerSession  int
	MaxPositionShares    float64
}

// DefaultCaps returns the conservative limits used when nothing is configured.
func DefaultCaps() Caps {
	return Caps{
		MaxWorstTotalUSD:     200,
		MaxWorstPerMarketUSD: 75,
		MaxTradesPerSession:  1,
		MaxPositionShares:    50,
	}
}

// SkipKind identifies which cap rejected a placement.
type SkipKind string

const (
	SkipWorstTotal    SkipKind = "worst_total"
	SkipWorstMarket   SkipKind = "worst_market"
	SkipTradesPerSess SkipKind = "trades_per_session"
	SkipPosition      SkipKind = "position"
	SkipCash          SkipKind = "cash"
	SkipInvalid       SkipKind = "invalid" // price o size no finitos o <= 0
)

// Skip is a typed placement rejection. It is not an error: callers report it
// and move on.
type Skip struct {
	Kind    SkipKind
	Current float64
	Added   float64
	Limit   float64
}

// String renders the reason the way the event stream records it.
func (s *Skip) String() string {
	switch s.Kind {
	case SkipTradesPerSess:
		return fmt.Sprintf("SKIP:%s %d>=%d", s.Kind, int(s.Current), int(s.Limit))
	case SkipPosition:
		return fmt.Sprintf("SKIP:%s %.1f+%.1f>%.1f", s.Kind, s.Current, s.Added, s.Limit)
	case SkipCash:
		return fmt.Sprintf("SKIP:%s %.2f>%.2f", s.Kind, s.Added, s.Limit)
	case SkipInvalid:
		return fmt.Sprintf("SKIP:%s notional=%v shares=%v", s.Kind, s.Added, s.Current)
	}
	return fmt.Sprintf("SKIP:%s %.2f+%.2f>%.2f", s.Kind, s.Current, s.Added, s.Limit)
}

// State is a copy of the gate's counters.
type State struct {
	WorstTotalUSD     float64
	WorstPerMarketUSD map[string]float64
	TradesPerSession  map[string]int
	PositionPerMarket map[string]float64
}

// Gate checks and accounts the risk caps. Safe for concurrent use.
type Gate struct {
	caps Caps

	mu                sync.Mutex
	worstTotal        float64
	worstPerMarket    map[string]float64
	tradesPerSession  map[string]int
	positionPerMarket map[string]float64
}

// NewGate creates a gate with empty counters.
func NewGate(caps Caps) *Gate {
	return &Gate{
		caps:              caps,
		worstPerMarket:    make(map[string]float64),
		tradesPerSession:  make(map[string]int),
		positionPerMarket: make(map[string]float64),
	}
}

// Caps returns the configured limits.
func (g *Gate) Caps() Caps { return g.caps }

// CheckCaps returns the first violated cap in the order total, per-market,
// trade count, position; nil if the placement fits.
func (g *Gate) CheckCaps(market string, price, size float64) *Skip {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.check(market, price*size, size)
}

// RecordTrade accumulates a placement into the counters unconditionally.
func (g *Gate) RecordTrade(market string, price, size float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record(market, price*size, size)
}

// CheckAndRecord checks and, when nothing is violated, records in the same
// critical section so two placements can't both pass against the same headroom.
func (g *Gate) CheckAndRecord(market string, price, size float64) *Skip {
	g.mu.Lock()
	defer g.mu.Unlock()
	notional := price * size
	if skip := g.check(market, notional, size); skip != nil {
		return skip
	}
	g.record(market, notional, size)
	return nil
}

// ReleaseTrade undoes a RecordTrade/CheckAndRecord whose placement never
// reached the broker. Counters never go below zero.
func (g *Gate) ReleaseTrade(market string, price, size float64) {
	notional := price * size
	if !validAmounts(notional, size) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.worstTotal = math.Max(g.worstTotal-notional, 0)
	if v, ok := g.worstPerMarket[market]; ok {
		g.worstPerMarket[market] = math.Max(v-notional, 0)
	}
	if n := g.tradesPerSession[market]; n > 1 {
		g.tradesPerSession[market] = n - 1
	} else {
		delete(g.tradesPerSession, market)
	}
	if v, ok := g.positionPerMarket[market]; ok {
		g.positionPerMarket[market] = math.Max(v-size, 0)
	}
}

// ClearSession drops the per-market trade count and position for a market
// on rollover. Worst-case exposure, global and per market, is kept for the
// whole run.
func (g *Gate) ClearSession(market string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tradesPerSession, market)
	delete(g.positionPerMarket, market)
}

// State returns a copy of the counters.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := State{
		WorstTotalUSD:     g.worstTotal,
		WorstPerMarketUSD: make(map[string]float64, len(g.worstPerMarket)),
		TradesPerSession:  make(map[string]int, len(g.tradesPerSession)),
		PositionPerMarket: make(map[string]float64, len(g.positionPerMarket)),
	}
	for k, v := range g.worstPerMarket {
		st.WorstPerMarketUSD[k] = v
	}
	for k, v := range g.tradesPerSession {
		st.TradesPerSession[k] = v
	}
	for k, v := range g.positionPerMarket {
		st.PositionPerMarket[k] = v
	}
	return st
}

func (g *Gate) check(market string, notional, shares float64) *Skip {
	if !validAmounts(notional, shares) {
		// NaN pasaría todas las comparaciones y envenenaría los contadores
		return &Skip{Kind: SkipInvalid, Current: shares, Added: notional}
	}
	if g.caps.MaxWorstTotalUSD > 0 && g.worstTotal+notional > g.caps.MaxWorstTotalUSD {
		return &Skip{Kind: SkipWorstTotal, Current: g.worstTotal, Added: notional, Limit: g.caps.MaxWorstTotalUSD}
	}
	perMarket := g.worstPerMarket[market]
	if g.caps.MaxWorstPerMarketUSD > 0 && perMarket+notional > g.caps.MaxWorstPerMarketUSD {
		return &Skip{Kind: SkipWorstMarket, Current: perMarket, Added: notional, Limit: g.caps.MaxWorstPerMarketUSD}
	}
	trades := g.tradesPerSession[market]
	if g.caps.MaxTradesPerSession > 0 && trades >= g.caps.MaxTradesPerSession {
		return &Skip{Kind: SkipTradesPerSess, Current: float64(trades), Added: 1, Limit: float64(g.caps.MaxTradesPerSession)}
	}
	pos := g.positionPerMarket[market]
	if g.caps.MaxPositionShares > 0 && pos+shares > g.caps.MaxPositionShares {
		return &Skip{Kind: SkipPosition, Current: pos, Added: shares, Limit: g.caps.MaxPositionShares}
	}
	return nil
}

func (g *Gate) record(market string, notional, shares float64) {
	if !validAmounts(notional, shares) {
		return
	}
	g.worstTotal += notional
	g.worstPerMarket[market] += notional
	g.tradesPerSession[market]++
	g.positionPerMarket[market] += shares
}

func validAmounts(notional, shares float64) bool {
	for _, v := range []float64{notional, shares} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}
