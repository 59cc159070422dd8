package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// LedgerStore persists the paper order and position ledger.
// Writes are upserts keyed by order id / token id.
type LedgerStore interface {
	SaveOrder(ctx context.Context, order domain.OrderSnapshot) error
	SavePosition(ctx context.Context, pos domain.PositionSnapshot) error
	SaveCash(ctx context.Context, cash float64, at time.Time) error
}

// EventSink receives the structured order event stream.
// Implementations must be safe for concurrent use.
type EventSink interface {
	Emit(ctx context.Context, ev domain.OrderTelemetry) error
}
