package domain

import (
	"strings"
	"time"
)

// Trade representa un print del tape (last_trade_price).
type Trade struct {
	TokenID   string
	Side      string // "BUY" o "SELL"
	Price     float64
	Size      float64
	Timestamp time.Time // zero si el feed no lo trae
}

// IsSell devuelve true si el agresor fue vendedor.
func (t Trade) IsSell() bool {
	return strings.EqualFold(t.Side, "SELL")
}

// ShouldUpdateTradeTime aplica el guard monotónico de timestamps de trades:
// un print sin timestamp solo se acepta si todavía no hay ninguno guardado,
// y uno con timestamp solo si no es anterior al guardado.
func ShouldUpdateTradeTime(prev, next time.Time) bool {
	if prev.IsZero() {
		return true
	}
	if next.IsZero() {
		return false
	}
	return !next.Before(prev)
}
