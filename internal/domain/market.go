package domain

import "time"

// Outcome es uno de los dos lados de un mercado binario de 15 minutos.
type Outcome string

const (
	OutcomeUp   Outcome = "Up"
	OutcomeDown Outcome = "Down"
)

// Session es el mercado actualmente seguido para un instrumento.
// En cada rollover cambian MarketID y los dos token IDs.
type Session struct {
	Instrument  string // clave estable, ej. "btc-15m"
	MarketID    string // condition_id de la sesión actual
	UpTokenID   string
	DownTokenID string
	Slug        string
	EndDate     time.Time
}

// TokenOutcome resuelve un token por igualdad exacta, nunca por etiqueta.
func (s Session) TokenOutcome(tokenID string) (Outcome, bool) {
	if tokenID == "" {
		return "", false
	}
	switch tokenID {
	case s.UpTokenID:
		return OutcomeUp, true
	case s.DownTokenID:
		return OutcomeDown, true
	}
	return "", false
}

// SameIdentity devuelve true si market y tokens coinciden.
func (s Session) SameIdentity(o Session) bool {
	return s.MarketID == o.MarketID && s.UpTokenID == o.UpTokenID && s.DownTokenID == o.DownTokenID
}

// BookSnapshot es la vista de un instrumento que consume el broker.
// Up/Down son nil hasta que llega el primer update de ese outcome.
type BookSnapshot struct {
	Session Session
	Up      *OrderBook
	Down    *OrderBook
}

// OutcomeBook devuelve el libro del token dado si pertenece a la sesión actual.
func (s BookSnapshot) OutcomeBook(tokenID string) (*OrderBook, bool) {
	outcome, ok := s.Session.TokenOutcome(tokenID)
	if !ok {
		return nil, false
	}
	if outcome == OutcomeUp {
		return s.Up, s.Up != nil
	}
	return s.Down, s.Down != nil
}
