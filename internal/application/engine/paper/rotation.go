package paper

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// CancelMarket schedules cancels for every order of a market, typically the
// session that just rolled over. Returns how many were scheduled.
func (b *Broker) CancelMarket(ctx context.Context, market string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.sortedOpen() {
		if o.market == market && b.scheduleCancel(o) {
			n++
		}
	}
	if n > 0 {
		slog.Info("paper: cancelling orders of rolled market", "market", shortID(market), "orders", n)
	}
	return n
}

// ForceRemove drops orders on (market, token) immediately, tagging the ledger
// with reason. Used when an order must not wait for the cancel latency.
func (b *Broker) ForceRemove(ctx context.Context, market, token, reason string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	n := 0
	for _, o := range b.sortedOpen() {
		if o.market != market || o.token != token {
			continue
		}
		delete(b.open, o.id)
		b.ledger.tagOrder(ctx, o.id, domain.OrderEvent(reason), now)
		ev := b.telemetry(o, domain.TelemetryRemove, now)
		ev.Reason = reason
		b.emit(ctx, ev)
		n++
	}
	return n
}
