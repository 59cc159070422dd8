package paper

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polypaper/internal/application/engine"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

// Ledger holds the externally visible order and position records plus the
// cash balance. Each table has its own lock; the broker is the only writer.
// Lock order when more than one is needed: orders, positions, cash.
type Ledger struct {
	store        ports.LedgerStore // optional write-through
	startingCash float64

	ordersMu sync.RWMutex
	orders   map[string]*domain.OrderSnapshot

	posMu     sync.RWMutex
	positions map[string]*domain.PositionSnapshot

	cashMu sync.RWMutex
	cash   float64
}

// NewLedger creates a ledger funded with startingCash. store may be nil.
func NewLedger(startingCash float64, store ports.LedgerStore) *Ledger {
	return &Ledger{
		store:        store,
		startingCash: startingCash,
		orders:       make(map[string]*domain.OrderSnapshot),
		positions:    make(map[string]*domain.PositionSnapshot),
		cash:         startingCash,
	}
}

// fill is one simulated execution against an order.
type fill struct {
	orderID string
	tokenID string
	qty     float64
	price   float64
	matched float64 // order matched size after the fill
	at      time.Time
}

// addOrder records a freshly submitted order.
func (l *Ledger) addOrder(ctx context.Context, snap domain.OrderSnapshot) {
	l.ordersMu.Lock()
	s := snap
	l.orders[snap.OrderID] = &s
	l.ordersMu.Unlock()
	l.persistOrder(ctx, snap)
}

// tagOrder sets the lifecycle tag of an order. Unknown ids are ignored.
func (l *Ledger) tagOrder(ctx context.Context, orderID string, ev domain.OrderEvent, at time.Time) {
	l.ordersMu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.ordersMu.Unlock()
		return
	}
	o.LastEvent = ev
	o.UpdatedAt = at
	if ev == domain.OrderEventOpen {
		t := at
		o.PlacedAt = &t
	}
	snap := *o
	l.ordersMu.Unlock()
	l.persistOrder(ctx, snap)
}

// applyFill moves cash, position and order state for one fill.
func (l *Ledger) applyFill(ctx context.Context, f fill) {
	l.ordersMu.Lock()
	var snap *domain.OrderSnapshot
	if o, ok := l.orders[f.orderID]; ok {
		o.MatchedSize = math.Max(o.MatchedSize, math.Min(f.matched, o.OriginalSize))
		o.UpdatedAt = f.at
		if o.Remaining() <= domain.Epsilon {
			o.LastEvent = domain.OrderEventFilled
		} else {
			o.LastEvent = domain.OrderEventPartialFill
		}
		cp := *o
		snap = &cp
	}
	l.ordersMu.Unlock()

	l.posMu.Lock()
	p, ok := l.positions[f.tokenID]
	if !ok {
		p = &domain.PositionSnapshot{TokenID: f.tokenID}
		l.positions[f.tokenID] = p
	}
	applyToPosition(p, f.qty, f.price)
	p.UpdatedAt = f.at
	pos := *p
	l.posMu.Unlock()

	l.cashMu.Lock()
	l.cash = math.Max(l.cash-f.qty*f.price, 0)
	cash := l.cash
	l.cashMu.Unlock()

	if snap != nil {
		l.persistOrder(ctx, *snap)
	}
	if l.store != nil {
		if err := l.store.SavePosition(ctx, pos); err != nil {
			slog.Warn("paper: error persisting position", "token", shortID(f.tokenID), "err", err)
		}
		if err := l.store.SaveCash(ctx, cash, f.at); err != nil {
			slog.Warn("paper: error persisting cash", "err", err)
		}
	}
}

// applyToPosition re-averages the position cost with a signed fill.
func applyToPosition(p *domain.PositionSnapshot, qty, px float64) {
	newSize := p.Size + qty
	switch {
	case math.Abs(newSize) <= domain.Epsilon:
		p.Size, p.AvgPrice = 0, 0
	case math.Abs(p.Size) <= domain.Epsilon:
		p.Size, p.AvgPrice = newSize, px
	default:
		cost := p.Size*p.AvgPrice + qty*px
		p.Size = newSize
		p.AvgPrice = cost / newSize
	}
}

func (l *Ledger) persistOrder(ctx context.Context, snap domain.OrderSnapshot) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveOrder(ctx, snap); err != nil {
		slog.Warn("paper: error persisting order", "order", snap.OrderID, "err", err)
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	l.cashMu.RLock()
	defer l.cashMu.RUnlock()
	return l.cash
}

// StartingCash returns the initial balance.
func (l *Ledger) StartingCash() float64 { return l.startingCash }

// Order returns a copy of one order record.
func (l *Ledger) Order(orderID string) (domain.OrderSnapshot, bool) {
	l.ordersMu.RLock()
	defer l.ordersMu.RUnlock()
	o, ok := l.orders[orderID]
	if !ok {
		return domain.OrderSnapshot{}, false
	}
	return *o, true
}

// Orders returns all order records, oldest first.
func (l *Ledger) Orders() []domain.OrderSnapshot {
	l.ordersMu.RLock()
	out := make([]domain.OrderSnapshot, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, *o)
	}
	l.ordersMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Position returns the position in a token.
func (l *Ledger) Position(tokenID string) (domain.PositionSnapshot, bool) {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	p, ok := l.positions[tokenID]
	if !ok {
		return domain.PositionSnapshot{}, false
	}
	return *p, true
}

// Positions returns all positions sorted by token id.
func (l *Ledger) Positions() []domain.PositionSnapshot {
	l.posMu.RLock()
	out := make([]domain.PositionSnapshot, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	l.posMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func shortID(id string) string {
	return engine.TruncateStr(id, 11)
}
