package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
	"github.com/google/uuid"
)

const (
	defaultStartingCash     = 1000
	defaultPostLatency      = 250 * time.Millisecond
	defaultCancelReqLatency = 80 * time.Millisecond
	defaultCancelClrLatency = 350 * time.Millisecond
	defaultFlowBase         = 5.0
	defaultFlowDepthFrac    = 0.02
	defaultFlowNoise        = 0.25
	defaultPrintMaxAge      = 10 * time.Second
	defaultPrintBoost       = 1.25

	minStepDt = 0.1 // seconds
	maxStepDt = 5.0
)

// Config holds the fill simulation parameters.
type Config struct {
	StrategyID   string
	StartingCash float64
	Seed         uint64

	PostLatency          time.Duration
	CancelRequestLatency time.Duration
	CancelClearLatency   time.Duration

	FlowBasePerSec        float64
	FlowDepthFracPerSec   float64
	FlowNoiseFrac         float64 // clamped to [0, 2]
	FlowUseBookDeltas     bool
	FlowFallbackMult      float64
	FlowRequireTradePrint bool

	QueueAddAheadFrac float64 // clamped to [0, 1]

	TradePrintMaxAge time.Duration
	TradePrintBoost  float64
}

// DefaultConfig returns the simulation defaults.
func DefaultConfig() Config {
	return Config{
		StrategyID:           "paper",
		StartingCash:         defaultStartingCash,
		Seed:                 1,
		PostLatency:          defaultPostLatency,
		CancelRequestLatency: defaultCancelReqLatency,
		CancelClearLatency:   defaultCancelClrLatency,
		FlowBasePerSec:       defaultFlowBase,
		FlowDepthFracPerSec:  defaultFlowDepthFrac,
		FlowNoiseFrac:        defaultFlowNoise,
		FlowUseBookDeltas:    true,
		FlowFallbackMult:     1.0,
		TradePrintMaxAge:     defaultPrintMaxAge,
		TradePrintBoost:      defaultPrintBoost,
	}
}

func (c Config) normalized() Config {
	c.StartingCash = math.Max(c.StartingCash, 0)
	c.PostLatency = max(c.PostLatency, 0)
	c.CancelRequestLatency = max(c.CancelRequestLatency, 0)
	c.CancelClearLatency = max(c.CancelClearLatency, 0)
	c.FlowBasePerSec = math.Max(c.FlowBasePerSec, 0)
	c.FlowDepthFracPerSec = math.Max(c.FlowDepthFracPerSec, 0)
	c.FlowNoiseFrac = clamp(c.FlowNoiseFrac, 0, 2)
	c.FlowFallbackMult = math.Max(c.FlowFallbackMult, 0)
	c.QueueAddAheadFrac = clamp(c.QueueAddAheadFrac, 0, 1)
	if c.TradePrintMaxAge <= 0 {
		c.TradePrintMaxAge = defaultPrintMaxAge
	}
	if c.TradePrintBoost <= 0 {
		c.TradePrintBoost = defaultPrintBoost
	}
	if c.StrategyID == "" {
		c.StrategyID = "paper"
	}
	return c
}

// order is the broker-internal state of one simulated BUY order.
type order struct {
	id         string
	instrument string
	market     string
	token      string
	outcome    domain.Outcome

	price    float64
	tick     int64
	original float64
	matched  float64
	cost     float64 // sum of qty*px over fills
	queue    float64 // estimated size resting ahead at our tick

	submitAt      time.Time
	activateAt    time.Time
	opened        bool
	cancelReqAt   time.Time // zero until a cancel is scheduled
	cancelClearAt time.Time
	cancelReqSent bool

	// last observed book state, used for per-step deltas
	observed        bool
	lastBestBidOK   bool
	lastBestBidTick int64
	lastBestBidSize float64
	lastLevelSize   float64
	lastSeenTrade   time.Time
}

func (o *order) remaining() float64 {
	return math.Max(o.original-o.matched, 0)
}

func (o *order) cancelScheduled() bool {
	return !o.cancelClearAt.IsZero()
}

// PlaceRequest describes a new paper BUY order.
type PlaceRequest struct {
	Instrument string
	MarketID   string
	TokenID    string
	Outcome    domain.Outcome
	Price      float64
	Size       float64
	QueueAhead float64 // hint of visible size ahead at submit
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithEventSink sets the telemetry sink.
func WithEventSink(sink ports.EventSink) Option {
	return func(b *Broker) { b.sink = sink }
}

// Broker owns every open paper order and advances them against the
// reconstructed books on each Step.
type Broker struct {
	cfg    Config
	books  ports.BookReader
	ledger *Ledger
	sink   ports.EventSink
	now    func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	open     map[string]*order
	lastStep time.Time
}

// NewBroker creates a broker. ledger must not be nil.
func NewBroker(cfg Config, books ports.BookReader, ledger *Ledger, opts ...Option) *Broker {
	cfg = cfg.normalized()
	b := &Broker{
		cfg:    cfg,
		books:  books,
		ledger: ledger,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		open:   make(map[string]*order),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastStep = b.now()
	return b
}

// Config returns the normalized configuration.
func (b *Broker) Config() Config { return b.cfg }

// Ledger returns the ledger the broker writes to.
func (b *Broker) Ledger() *Ledger { return b.ledger }

// Place submits a BUY order. It becomes fillable after PostLatency.
func (b *Broker) Place(ctx context.Context, req PlaceRequest) (string, error) {
	if req.Size <= domain.Epsilon || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return "", fmt.Errorf("paper.Place: invalid size %v", req.Size)
	}
	if req.Price <= 0 || req.Price >= 1 || math.IsNaN(req.Price) {
		return "", fmt.Errorf("paper.Place: invalid price %v", req.Price)
	}
	if req.MarketID == "" || req.TokenID == "" {
		return "", fmt.Errorf("paper.Place: market and token are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	tick := domain.PriceToTick(req.Price)
	o := &order{
		id:         uuid.New().String(),
		instrument: req.Instrument,
		market:     req.MarketID,
		token:      req.TokenID,
		outcome:    req.Outcome,
		price:      domain.TickToPrice(tick),
		tick:       tick,
		original:   req.Size,
		queue:      math.Max(req.QueueAhead, 0),
		submitAt:   now,
		activateAt: now.Add(b.cfg.PostLatency),
	}
	b.open[o.id] = o

	b.ledger.addOrder(ctx, domain.OrderSnapshot{
		OrderID:      o.id,
		Instrument:   o.instrument,
		MarketID:     o.market,
		TokenID:      o.token,
		Outcome:      o.outcome,
		Side:         domain.SideBuy,
		Price:        o.price,
		OriginalSize: o.original,
		LastEvent:    domain.OrderEventSubmit,
		StrategyID:   b.cfg.StrategyID,
		SubmittedAt:  now,
		UpdatedAt:    now,
	})

	slog.Info("paper: order submitted",
		"order", o.id,
		"market", shortID(o.market),
		"outcome", o.outcome,
		"price", fmt.Sprintf("%.3f", o.price),
		"size", fmt.Sprintf("%.2f", o.original),
		"queue_ahead", fmt.Sprintf("%.2f", o.queue),
	)
	b.emit(ctx, b.telemetry(o, domain.TelemetrySubmit, now))
	return o.id, nil
}

// Cancel schedules a cancel for every order on (market, token) that doesn't
// have one yet. The order stays fillable until the clear time.
func (b *Broker) Cancel(ctx context.Context, market, token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.open {
		if o.market == market && o.token == token {
			if b.scheduleCancel(o) {
				n++
			}
		}
	}
	return n > 0
}

func (b *Broker) scheduleCancel(o *order) bool {
	if o.cancelScheduled() {
		return false
	}
	now := b.now()
	o.cancelReqAt = now.Add(b.cfg.CancelRequestLatency)
	o.cancelClearAt = o.cancelReqAt.Add(b.cfg.CancelClearLatency)
	slog.Debug("paper: cancel scheduled",
		"order", o.id,
		"req_ms", b.cfg.CancelRequestLatency.Milliseconds(),
		"clear_ms", (b.cfg.CancelRequestLatency + b.cfg.CancelClearLatency).Milliseconds(),
	)
	return true
}

// IsBusy reports whether any order, including one pending cancel, rests on
// (market, token).
func (b *Broker) IsBusy(market, token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.open {
		if o.market == market && o.token == token {
			return true
		}
	}
	return false
}

// Resting returns price and size of the newest order on (market, token)
// without a scheduled cancel.
func (b *Broker) Resting(market, token string) (price, size float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var best *order
	for _, o := range b.open {
		if o.market != market || o.token != token || o.cancelScheduled() {
			continue
		}
		if best == nil || o.submitAt.After(best.submitAt) {
			best = o
		}
	}
	if best == nil {
		return 0, 0, false
	}
	return best.price, best.original, true
}

// ReservedUSDC is the cash committed to open orders: sum of remaining x price.
func (b *Broker) ReservedUSDC() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, o := range b.open {
		total += o.remaining() * math.Max(o.price, 0)
	}
	return total
}

// OpenOrders returns the number of orders still tracked.
func (b *Broker) OpenOrders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// sortedOpen returns open orders in submit order so RNG draws are reproducible.
func (b *Broker) sortedOpen() []*order {
	out := make([]*order, 0, len(b.open))
	for _, o := range b.open {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].submitAt.Equal(out[j].submitAt) {
			return out[i].id < out[j].id
		}
		return out[i].submitAt.Before(out[j].submitAt)
	})
	return out
}

func (b *Broker) telemetry(o *order, kind domain.TelemetryKind, now time.Time) domain.OrderTelemetry {
	return domain.OrderTelemetry{
		Kind:       kind,
		SessionID:  o.market,
		Instrument: o.instrument,
		TokenID:    o.token,
		Outcome:    o.outcome,
		StrategyID: b.cfg.StrategyID,
		OrderID:    o.id,
		Side:       domain.SideBuy,
		Price:      o.price,
		Size:       o.original,
		SubmitTsMs: o.submitAt.UnixMilli(),
		FillPct:    fillPct(o.matched, o.original),
	}
}

func (b *Broker) emit(ctx context.Context, ev domain.OrderTelemetry) {
	emitEvent(ctx, b.sink, ev)
}

// emitEvent sends ev to sink; sink failures never affect simulation state.
func emitEvent(ctx context.Context, sink ports.EventSink, ev domain.OrderTelemetry) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, ev); err != nil {
		slog.Warn("paper: telemetry sink error", "kind", ev.Kind, "order", ev.OrderID, "err", err)
	}
}

func fillPct(matched, original float64) float64 {
	if original <= 0 {
		return 0
	}
	return matched / original * 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
