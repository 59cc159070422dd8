package domain

import "time"

// FeedEvent es un mensaje de market data ya parseado en el borde.
// El conjunto de variantes es cerrado: FullBookEvent, PriceChangeEvent, LastTradeEvent.
type FeedEvent interface {
	AssetID() string
	feedEvent()
}

// FullBookEvent reemplaza ambos lados del libro de un token.
type FullBookEvent struct {
	TokenID   string
	Bids      []BookEntry
	Asks      []BookEntry
	Timestamp time.Time
}

// PriceChangeEvent es un delta de un solo nivel.
// LevelOK=false cuando price/size venían mal formados: solo se usan los best.
type PriceChangeEvent struct {
	TokenID   string
	LevelOK   bool
	Tick      int64
	Size      float64
	IsBid     bool
	BestBid   float64 // 0 = no informado
	BestAsk   float64 // 0 = no informado
	Timestamp time.Time
}

// LastTradeEvent es un print del tape.
type LastTradeEvent struct {
	Trade Trade
}

func (e FullBookEvent) AssetID() string    { return e.TokenID }
func (e PriceChangeEvent) AssetID() string { return e.TokenID }
func (e LastTradeEvent) AssetID() string   { return e.Trade.TokenID }

func (FullBookEvent) feedEvent()    {}
func (PriceChangeEvent) feedEvent() {}
func (LastTradeEvent) feedEvent()   {}
