package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/polypaper/internal/application/engine"
	"github.com/alejandrodnm/polypaper/internal/application/risk"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

const (
	minOrderPrice = 0.01
	maxOrderPrice = 0.99
)

// Intent is what the strategy wants resting on one outcome this tick.
type Intent struct {
	Instrument string
	Outcome    domain.Outcome
	NoOrder    bool // cancel whatever rests on the outcome
	Price      float64
	Size       float64
}

// Action is what Submit did with an intent.
type Action string

const (
	ActionNoop      Action = "noop"
	ActionPlaced    Action = "placed"
	ActionCancelled Action = "cancelled"
	ActionSkipped   Action = "skipped"
)

// SubmitResult reports the outcome of Submit.
type SubmitResult struct {
	Action  Action
	OrderID string
	Skip    *risk.Skip
}

// Executor turns strategy intents into gated placements and cancels.
type Executor struct {
	broker *Broker
	gate   *risk.Gate
	books  ports.BookReader
	sink   ports.EventSink
}

// NewExecutor wires an executor. sink may be nil.
func NewExecutor(broker *Broker, gate *risk.Gate, books ports.BookReader, sink ports.EventSink) *Executor {
	return &Executor{broker: broker, gate: gate, books: books, sink: sink}
}

// Submit applies one intent against the current session of its instrument.
func (e *Executor) Submit(ctx context.Context, in Intent) (SubmitResult, error) {
	snap, ok := e.books.Snapshot(in.Instrument)
	if !ok {
		return SubmitResult{Action: ActionNoop}, fmt.Errorf("paper.Submit: unknown instrument %q", in.Instrument)
	}
	sess := snap.Session
	token := sess.UpTokenID
	if in.Outcome == domain.OutcomeDown {
		token = sess.DownTokenID
	}
	if sess.MarketID == "" || token == "" {
		return SubmitResult{Action: ActionNoop}, fmt.Errorf("paper.Submit: instrument %q has no active session", in.Instrument)
	}

	busy := e.broker.IsBusy(sess.MarketID, token)
	if !in.NoOrder && !finite(in.Size, in.Price) {
		skip := &risk.Skip{Kind: risk.SkipInvalid, Current: in.Size, Added: in.Price * in.Size}
		e.reportSkip(ctx, sess.MarketID, token, in.Outcome, 0, 0, skip)
		return SubmitResult{Action: ActionSkipped, Skip: skip}, nil
	}
	if in.NoOrder || in.Size <= domain.Epsilon {
		if busy && e.broker.Cancel(ctx, sess.MarketID, token) {
			return SubmitResult{Action: ActionCancelled}, nil
		}
		return SubmitResult{Action: ActionNoop}, nil
	}

	price := clamp(in.Price, minOrderPrice, maxOrderPrice)
	tick := domain.PriceToTick(price)
	if px, size, resting := e.broker.Resting(sess.MarketID, token); resting &&
		domain.PriceToTick(px) == tick && math.Abs(size-in.Size) <= domain.Epsilon {
		return SubmitResult{Action: ActionNoop}, nil
	}

	need := price * in.Size
	avail := e.broker.ledger.Cash() - e.broker.ReservedUSDC()
	if need > avail+domain.Epsilon {
		skip := &risk.Skip{Kind: risk.SkipCash, Added: need, Limit: math.Max(avail, 0)}
		e.reportSkip(ctx, sess.MarketID, token, in.Outcome, price, in.Size, skip)
		return SubmitResult{Action: ActionSkipped, Skip: skip}, nil
	}

	if skip := e.gate.CheckAndRecord(sess.MarketID, price, in.Size); skip != nil {
		e.reportSkip(ctx, sess.MarketID, token, in.Outcome, price, in.Size, skip)
		return SubmitResult{Action: ActionSkipped, Skip: skip}, nil
	}

	if busy {
		e.broker.Cancel(ctx, sess.MarketID, token)
	}

	var queueAhead float64
	if ob, ok := snap.OutcomeBook(token); ok {
		queueAhead = engine.QueuePosition(ob, price)
	}

	id, err := e.broker.Place(ctx, PlaceRequest{
		Instrument: in.Instrument,
		MarketID:   sess.MarketID,
		TokenID:    token,
		Outcome:    in.Outcome,
		Price:      price,
		Size:       in.Size,
		QueueAhead: queueAhead,
	})
	if err != nil {
		e.gate.ReleaseTrade(sess.MarketID, price, in.Size)
		return SubmitResult{Action: ActionNoop}, fmt.Errorf("paper.Submit: %w", err)
	}
	return SubmitResult{Action: ActionPlaced, OrderID: id}, nil
}

// OnRollover resets the per-session risk counters of the old market and
// schedules cancels for the orders still resting on it.
func (e *Executor) OnRollover(ctx context.Context, oldMarket string) int {
	if oldMarket == "" {
		return 0
	}
	e.gate.ClearSession(oldMarket)
	return e.broker.CancelMarket(ctx, oldMarket)
}

func (e *Executor) reportSkip(ctx context.Context, market, token string, outcome domain.Outcome, price, size float64, skip *risk.Skip) {
	slog.Info("paper: placement skipped",
		"market", shortID(market),
		"outcome", outcome,
		"reason", skip.String(),
	)
	emitEvent(ctx, e.sink, domain.OrderTelemetry{
		Kind:       domain.TelemetrySkip,
		SessionID:  market,
		TokenID:    token,
		Outcome:    outcome,
		StrategyID: e.broker.cfg.StrategyID,
		Side:       domain.SideBuy,
		Price:      price,
		Size:       size,
		Reason:     skip.String(),
	})
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
