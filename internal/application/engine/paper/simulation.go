package paper

// simulation.go: fill simulation de órdenes paper contra el libro reconstruido.
//
// Por cada paso y cada orden abierta:
//   - activación tras PostLatency y progreso de cancelaciones programadas
//   - guard de rollover: la orden solo se evalúa contra la sesión de su market
//   - cola por delante: se acota a lo visible en la primera observación y
//     crece con una fracción de los aumentos visibles después
//   - taker: si el best ask cruza, consume niveles de ask hasta el límite
//   - maker: estima el flujo vendedor del paso (delta de best bid, baseline
//     sintético, prints del tape), primero drena la cola y el resto llena

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// StepResult counts what happened in one Step.
type StepResult struct {
	Opened    int
	Fills     int
	Cancelled int
	Removed   int
}

// Step advances every open order once.
func (b *Broker) Step(ctx context.Context) StepResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	dt := clamp(now.Sub(b.lastStep).Seconds(), minStepDt, maxStepDt)
	b.lastStep = now

	var res StepResult
	for _, o := range b.sortedOpen() {
		if b.stepOrder(ctx, o, now, dt, &res) {
			delete(b.open, o.id)
		}
	}
	return res
}

// stepOrder evaluates one order; returns true if it must be dropped.
func (b *Broker) stepOrder(ctx context.Context, o *order, now time.Time, dt float64, res *StepResult) bool {
	if !o.opened && !now.Before(o.activateAt) {
		o.opened = true
		res.Opened++
		b.ledger.tagOrder(ctx, o.id, domain.OrderEventOpen, now)
		ev := b.telemetry(o, domain.TelemetryAck, now)
		ev.AckTsMs = now.UnixMilli()
		ev.AckMs = max(now.Sub(o.submitAt).Milliseconds(), 0)
		b.emit(ctx, ev)
	}

	if o.cancelScheduled() {
		if !o.cancelReqSent && !now.Before(o.cancelReqAt) {
			o.cancelReqSent = true
			b.ledger.tagOrder(ctx, o.id, domain.OrderEventCancelReq, now)
			b.emit(ctx, b.telemetry(o, domain.TelemetryCancelReq, now))
		}
		if !now.Before(o.cancelClearAt) {
			b.ledger.tagOrder(ctx, o.id, domain.OrderEventCancelled, now)
			ev := b.telemetry(o, domain.TelemetryCancel, now)
			ev.FillMs = now.Sub(o.submitAt).Milliseconds()
			ev.Reason = "user_cancel"
			b.emit(ctx, ev)
			res.Cancelled++
			slog.Info("paper: order cancelled",
				"order", o.id,
				"fill_pct", fmt.Sprintf("%.1f", fillPct(o.matched, o.original)),
			)
			return true
		}
	}

	if !o.opened {
		return false
	}

	snap, ok := b.books.Snapshot(o.instrument)
	if !ok || snap.Session.MarketID != o.market {
		// rollover: nunca llenar contra el libro de otra sesión
		return false
	}
	book, ok := snap.OutcomeBook(o.token)
	if !ok {
		return false
	}

	rem := o.remaining()
	if rem <= domain.Epsilon {
		res.Removed++
		return true
	}

	bestBid, hasBid := book.BestBidEntry()
	levelSize := book.BidSizeAt(o.tick)
	b.observeQueue(o, levelSize, bestBid, hasBid)

	sellCap := b.freshSellPrint(o, book.Metrics, now)

	qty, px := 0.0, 0.0
	if book.Metrics.BestAsk > 0 && domain.PriceToTick(book.Metrics.BestAsk) <= o.tick {
		qty, px = consumeDepth(book.Asks, rem, o.tick)
	}

	if qty <= domain.Epsilon && (!hasBid || o.tick >= bestBid.Tick) {
		flow := b.makerFlow(o, book, bestBid, hasBid, sellCap, now, dt)
		if flow > 0 && o.queue > 0 {
			consumed := math.Min(flow, o.queue)
			o.queue -= consumed
			flow -= consumed
		}
		if flow > 0 {
			qty, px = math.Min(flow, rem), o.price
		}
	}

	o.lastBestBidOK = hasBid
	o.lastBestBidTick = bestBid.Tick
	o.lastBestBidSize = math.Max(bestBid.Size, 0)

	if qty > domain.Epsilon && px > 0 {
		b.applyFill(ctx, o, qty, px, now)
		res.Fills++
		if o.remaining() <= domain.Epsilon {
			return true
		}
	}
	return false
}

// observeQueue bootstraps queue_ahead on the first observation and grows it
// with a fraction of visible increases at our tick afterwards.
func (b *Broker) observeQueue(o *order, levelSize float64, bestBid domain.BookEntry, hasBid bool) {
	if !o.observed {
		o.queue = math.Min(o.queue, levelSize)
		o.lastBestBidOK = hasBid
		o.lastBestBidTick = bestBid.Tick
		o.lastBestBidSize = math.Max(bestBid.Size, 0)
		o.lastLevelSize = levelSize
		o.observed = true
		return
	}
	if add := math.Max(levelSize-o.lastLevelSize, 0) * b.cfg.QueueAddAheadFrac; add > 0 {
		o.queue += add
	}
	o.lastLevelSize = levelSize
	o.queue = math.Max(o.queue, 0)
}

// freshSellPrint returns the size of a print not seen before by this order
// that sold at or through our price within the staleness window, else 0.
func (b *Broker) freshSellPrint(o *order, m domain.BookMetrics, now time.Time) float64 {
	if m.LastTradeTime.IsZero() || m.LastTradeTime.Equal(o.lastSeenTrade) {
		return 0
	}
	o.lastSeenTrade = m.LastTradeTime
	if !b.printQualifies(o, m, now) {
		return 0
	}
	if math.IsNaN(m.LastTradeSize) || math.IsInf(m.LastTradeSize, 0) || m.LastTradeSize <= 0 {
		return 0
	}
	return m.LastTradeSize
}

// printQualifies: sell print, at/through our price, recent enough.
func (b *Broker) printQualifies(o *order, m domain.BookMetrics, now time.Time) bool {
	if !m.HasLastTrade() || !m.LastTradeSell || m.LastTradeTime.IsZero() {
		return false
	}
	if domain.PriceToTick(m.LastTradePrice) > o.tick {
		return false
	}
	age := max(now.Sub(m.LastTradeTime), 0)
	return age <= b.cfg.TradePrintMaxAge
}

// makerFlow estimates the opposite-side size that traded at our price this step.
func (b *Broker) makerFlow(o *order, book *domain.OrderBook, bestBid domain.BookEntry, hasBid bool, sellCap float64, now time.Time, dt float64) float64 {
	if b.cfg.FlowRequireTradePrint {
		return sellCap
	}

	depth := math.Max(book.Metrics.DepthBidTop, 0)
	noise := b.cfg.FlowNoiseFrac
	mult := (1 - noise) + 2*noise*b.rng.Float64()
	baseline := (b.cfg.FlowBasePerSec + b.cfg.FlowDepthFracPerSec*depth) * mult * dt * b.cfg.FlowFallbackMult

	inferred := 0.0
	if b.cfg.FlowUseBookDeltas && hasBid && o.lastBestBidOK && o.lastBestBidTick == bestBid.Tick {
		inferred = math.Max(o.lastBestBidSize-bestBid.Size, 0)
	}

	flow := math.Max(inferred, baseline)
	if b.printQualifies(o, book.Metrics, now) {
		flow *= b.cfg.TradePrintBoost
	}
	if sellCap > 0 {
		flow = math.Min(flow, sellCap)
	}
	if math.IsNaN(flow) || math.IsInf(flow, 0) || flow < 0 {
		return 0
	}
	return flow
}

// consumeDepth walks asks from the best outward up to maxTick and returns
// the filled size and its VWAP.
func consumeDepth(asks []domain.BookEntry, want float64, maxTick int64) (got, vwap float64) {
	var cost float64
	for _, a := range asks {
		if a.Tick > maxTick || want <= domain.Epsilon {
			break
		}
		take := math.Min(want, math.Max(a.Size, 0))
		got += take
		cost += take * a.Price
		want -= take
	}
	if got > 0 {
		vwap = cost / got
	}
	return got, vwap
}

// applyFill updates the order, ledger and event stream for one fill.
func (b *Broker) applyFill(ctx context.Context, o *order, qty, px float64, now time.Time) {
	qty = math.Min(qty, o.remaining())
	o.matched = math.Max(math.Min(o.matched+qty, o.original), o.matched)
	o.cost += qty * px

	b.ledger.applyFill(ctx, fill{
		orderID: o.id,
		tokenID: o.token,
		qty:     qty,
		price:   px,
		matched: o.matched,
		at:      now,
	})

	kind := domain.TelemetryPartialFill
	if o.remaining() <= domain.Epsilon {
		kind = domain.TelemetryFill
	}
	ev := b.telemetry(o, kind, now)
	ev.FillTsMs = now.UnixMilli()
	ev.FillMs = now.Sub(o.submitAt).Milliseconds()
	ev.FillQty = qty
	if o.matched > 0 {
		ev.AvgFillPx = o.cost / o.matched
	}
	b.emit(ctx, ev)

	slog.Info("paper: fill",
		"order", o.id,
		"kind", kind,
		"qty", fmt.Sprintf("%.3f", qty),
		"px", fmt.Sprintf("%.4f", px),
		"matched", fmt.Sprintf("%.3f/%.3f", o.matched, o.original),
		"queue_ahead", fmt.Sprintf("%.2f", o.queue),
	)
}
