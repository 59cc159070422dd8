package book

// store.go: reconstrucción del libro por outcome a partir del feed incremental.
//
// Cada instrumento tiene su propio lock: los productores de distintos
// instrumentos solo compiten por el read-lock del índice. Los niveles se
// guardan en btree.Map indexados por tick entero, así el mejor nivel y el
// top-10 salen de un recorrido ordenado sin comparar floats.

import (
	"log/slog"
	"math"
	"sync"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/tidwall/btree"
)

const btreeDegree = 32

type outcomeBook struct {
	bids    *btree.Map[int64, float64]
	asks    *btree.Map[int64, float64]
	metrics domain.BookMetrics
}

func newOutcomeBook() *outcomeBook {
	return &outcomeBook{
		bids: btree.NewMap[int64, float64](btreeDegree),
		asks: btree.NewMap[int64, float64](btreeDegree),
	}
}

type instrumentBooks struct {
	mu      sync.RWMutex
	session domain.Session
	up      *outcomeBook
	down    *outcomeBook
}

func (ib *instrumentBooks) book(outcome domain.Outcome, create bool) *outcomeBook {
	slot := &ib.down
	if outcome == domain.OutcomeUp {
		slot = &ib.up
	}
	if *slot == nil && create {
		*slot = newOutcomeBook()
	}
	return *slot
}

type tokenRef struct {
	instrument string
	outcome    domain.Outcome
}

// Store mantiene la sesión vigente y los dos libros de cada instrumento.
type Store struct {
	mu          sync.RWMutex
	instruments map[string]*instrumentBooks
	tokens      map[string]tokenRef
}

// NewStore crea un Store vacío.
func NewStore() *Store {
	return &Store{
		instruments: make(map[string]*instrumentBooks),
		tokens:      make(map[string]tokenRef),
	}
}

// SetSession registra el mercado vigente de un instrumento.
// Devuelve true si cambió market o tokens. Los libros no se vacían: las
// órdenes viejas quedan neutralizadas por el guard de market id del broker.
func (s *Store) SetSession(sess domain.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ib, ok := s.instruments[sess.Instrument]
	if !ok {
		ib = &instrumentBooks{}
		s.instruments[sess.Instrument] = ib
	}

	ib.mu.Lock()
	prev := ib.session
	changed := !prev.SameIdentity(sess)
	ib.session = sess
	ib.mu.Unlock()

	for _, tok := range []string{prev.UpTokenID, prev.DownTokenID} {
		if ref, ok := s.tokens[tok]; ok && ref.instrument == sess.Instrument {
			delete(s.tokens, tok)
		}
	}
	if sess.UpTokenID != "" {
		s.tokens[sess.UpTokenID] = tokenRef{instrument: sess.Instrument, outcome: domain.OutcomeUp}
	}
	if sess.DownTokenID != "" {
		s.tokens[sess.DownTokenID] = tokenRef{instrument: sess.Instrument, outcome: domain.OutcomeDown}
	}

	if changed && prev.MarketID != "" {
		slog.Info("book: session rollover",
			"instrument", sess.Instrument,
			"from", prev.MarketID,
			"to", sess.MarketID,
		)
	}
	return changed
}

// Instruments devuelve las claves registradas.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.instruments))
	for k := range s.instruments {
		out = append(out, k)
	}
	return out
}

// Resolve mapea un token id al instrumento y outcome de la sesión actual.
func (s *Store) Resolve(tokenID string) (string, domain.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.tokens[tokenID]
	return ref.instrument, ref.outcome, ok
}

// Apply despacha un evento del feed. Los tokens desconocidos se ignoran
// (instrument == ""). changed indica si cambió el best bid o el best ask.
func (s *Store) Apply(ev domain.FeedEvent) (instrument string, changed bool) {
	instrument, outcome, ok := s.Resolve(ev.AssetID())
	if !ok {
		return "", false
	}

	switch e := ev.(type) {
	case domain.FullBookEvent:
		changed = s.ApplyFullBook(instrument, outcome, e.Bids, e.Asks)
	case domain.PriceChangeEvent:
		changed = s.ApplyPriceChange(instrument, outcome, e)
	case domain.LastTradeEvent:
		s.ApplyLastTrade(instrument, outcome, e.Trade)
	}
	return instrument, changed
}

// ApplyFullBook reemplaza ambos lados del libro. Los niveles con size <= 0 se descartan.
func (s *Store) ApplyFullBook(instrument string, outcome domain.Outcome, bids, asks []domain.BookEntry) bool {
	ib := s.get(instrument)
	if ib == nil {
		return false
	}
	ib.mu.Lock()
	defer ib.mu.Unlock()

	ob := ib.book(outcome, true)
	before := ob.metrics

	ob.bids = levelsToMap(bids)
	ob.asks = levelsToMap(asks)
	ob.recomputeMetrics()

	return bestChanged(before, ob.metrics)
}

// ApplyPriceChange aplica un delta de un nivel. Si el libro todavía no tiene
// best bid/ask propio, adopta los que informa el feed.
func (s *Store) ApplyPriceChange(instrument string, outcome domain.Outcome, ev domain.PriceChangeEvent) bool {
	ib := s.get(instrument)
	if ib == nil {
		return false
	}
	ib.mu.Lock()
	defer ib.mu.Unlock()

	ob := ib.book(outcome, true)
	before := ob.metrics

	if ev.LevelOK {
		side := ob.asks
		if ev.IsBid {
			side = ob.bids
		}
		if ev.Size <= 0 {
			side.Delete(ev.Tick)
		} else {
			side.Set(ev.Tick, ev.Size)
		}
	}
	ob.recomputeMetrics()

	if ob.metrics.BestBid == 0 && ev.BestBid > 0 {
		ob.metrics.BestBid = ev.BestBid
	}
	if ob.metrics.BestAsk == 0 && ev.BestAsk > 0 {
		ob.metrics.BestAsk = ev.BestAsk
	}
	if ob.metrics.Mid == 0 && ob.metrics.BestBid > 0 && ob.metrics.BestAsk > 0 {
		ob.metrics.Mid = (ob.metrics.BestBid + ob.metrics.BestAsk) / 2
	}

	return bestChanged(before, ob.metrics)
}

// ApplyLastTrade actualiza el último print si pasa el guard monotónico.
// Solo aplica a libros ya existentes. Devuelve true si se aplicó.
func (s *Store) ApplyLastTrade(instrument string, outcome domain.Outcome, t domain.Trade) bool {
	ib := s.get(instrument)
	if ib == nil {
		return false
	}
	ib.mu.Lock()
	defer ib.mu.Unlock()

	ob := ib.book(outcome, false)
	if ob == nil {
		return false
	}
	if !domain.ShouldUpdateTradeTime(ob.metrics.LastTradeTime, t.Timestamp) {
		slog.Debug("book: stale trade print dropped",
			"instrument", instrument,
			"outcome", outcome,
			"ts", t.Timestamp,
		)
		return false
	}
	ob.metrics.LastTradePrice = t.Price
	ob.metrics.LastTradeSize = t.Size
	ob.metrics.LastTradeSell = t.IsSell()
	if !t.Timestamp.IsZero() {
		ob.metrics.LastTradeTime = t.Timestamp
	}
	return true
}

// Snapshot devuelve una copia profunda de la sesión y los libros del instrumento.
func (s *Store) Snapshot(instrument string) (domain.BookSnapshot, bool) {
	ib := s.get(instrument)
	if ib == nil {
		return domain.BookSnapshot{}, false
	}
	ib.mu.RLock()
	defer ib.mu.RUnlock()

	snap := domain.BookSnapshot{Session: ib.session}
	if ib.up != nil {
		snap.Up = ib.up.copyOut(ib.session.UpTokenID)
	}
	if ib.down != nil {
		snap.Down = ib.down.copyOut(ib.session.DownTokenID)
	}
	return snap, true
}

func (s *Store) get(instrument string) *instrumentBooks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instruments[instrument]
}

// recomputeMetrics recalcula best, mid y profundidad top-10 por lado.
// Los campos de último trade se conservan.
func (ob *outcomeBook) recomputeMetrics() {
	m := &ob.metrics
	m.BestBid, m.BestAsk, m.Mid = 0, 0, 0
	m.DepthBidTop, m.DepthAskTop = 0, 0

	n := 0
	ob.bids.Reverse(func(tick int64, size float64) bool {
		if n == 0 {
			m.BestBid = domain.TickToPrice(tick)
		}
		m.DepthBidTop += size
		n++
		return n < domain.TopDepthLevels
	})

	n = 0
	ob.asks.Scan(func(tick int64, size float64) bool {
		if n == 0 {
			m.BestAsk = domain.TickToPrice(tick)
		}
		m.DepthAskTop += size
		n++
		return n < domain.TopDepthLevels
	})

	if m.BestBid > 0 && m.BestAsk > 0 {
		m.Mid = (m.BestBid + m.BestAsk) / 2
	}
}

func (ob *outcomeBook) copyOut(tokenID string) *domain.OrderBook {
	out := &domain.OrderBook{
		TokenID: tokenID,
		Bids:    make([]domain.BookEntry, 0, ob.bids.Len()),
		Asks:    make([]domain.BookEntry, 0, ob.asks.Len()),
		Metrics: ob.metrics,
	}
	ob.bids.Reverse(func(tick int64, size float64) bool {
		out.Bids = append(out.Bids, domain.BookEntry{Tick: tick, Price: domain.TickToPrice(tick), Size: size})
		return true
	})
	ob.asks.Scan(func(tick int64, size float64) bool {
		out.Asks = append(out.Asks, domain.BookEntry{Tick: tick, Price: domain.TickToPrice(tick), Size: size})
		return true
	})
	return out
}

func levelsToMap(levels []domain.BookEntry) *btree.Map[int64, float64] {
	m := btree.NewMap[int64, float64](btreeDegree)
	for _, l := range levels {
		if l.Size <= 0 || math.IsNaN(l.Size) || math.IsInf(l.Size, 0) {
			continue
		}
		m.Set(l.Tick, l.Size)
	}
	return m
}

func bestChanged(before, after domain.BookMetrics) bool {
	return before.BestBid != after.BestBid || before.BestAsk != after.BestAsk
}
