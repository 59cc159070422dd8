package ports

import (
	"context"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// TradeProvider obtiene el último print de un token.
type TradeProvider interface {
	// FetchLastTrade devuelve ok=false si el token todavía no tiene trades.
	FetchLastTrade(ctx context.Context, tokenID string) (trade domain.Trade, ok bool, err error)
}
