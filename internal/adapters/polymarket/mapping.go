package polymarket

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
// Los niveles con precio o size no parseable se descartan.
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, ok := domain.ParsePrice(string(r.Price))
		if !ok || price <= 0 {
			continue
		}
		size, ok := domain.ParsePrice(string(r.Size))
		if !ok || size <= 0 {
			continue
		}
		entries = append(entries, domain.NewBookEntry(price, size))
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Tick < entries[j].Tick
		}
		return entries[i].Tick > entries[j].Tick
	})
	return entries
}

// mapBookMsg convierte un snapshot, del feed o de /books. bids/buys y
// asks/sells son alias.
func mapBookMsg(m bookMsg) (domain.FullBookEvent, bool) {
	if m.AssetID == "" {
		return domain.FullBookEvent{}, false
	}
	bids, asks := m.Bids, m.Asks
	if bids == nil {
		bids = m.Buys
	}
	if asks == nil {
		asks = m.Sells
	}
	return domain.FullBookEvent{
		TokenID:   string(m.AssetID),
		Bids:      mapBookEntries(bids, false),
		Asks:      mapBookEntries(asks, true),
		Timestamp: parseMillis(string(m.Timestamp)),
	}, true
}

// mapPriceChangeMsg expande un price_change en un evento por delta.
func mapPriceChangeMsg(m wsPriceChangeMsg) []domain.FeedEvent {
	changes := m.PriceChanges
	if len(changes) == 0 && m.AssetID != "" {
		changes = []wsPriceChange{m.wsPriceChange}
	}
	ts := parseMillis(string(m.Timestamp))

	out := make([]domain.FeedEvent, 0, len(changes))
	for _, ch := range changes {
		if ch.AssetID == "" {
			continue
		}
		ev := domain.PriceChangeEvent{
			TokenID:   string(ch.AssetID),
			IsBid:     strings.EqualFold(string(ch.Side), "BUY"),
			Timestamp: ts,
		}
		price, okPx := domain.ParsePrice(string(ch.Price))
		size, okSz := domain.ParsePrice(string(ch.Size))
		if okPx && okSz && price > 0 {
			ev.LevelOK = true
			ev.Tick = domain.PriceToTick(price)
			ev.Size = size
		}
		if v, ok := domain.ParsePrice(string(ch.BestBid)); ok && v > 0 {
			ev.BestBid = v
		}
		if v, ok := domain.ParsePrice(string(ch.BestAsk)); ok && v > 0 {
			ev.BestAsk = v
		}
		if !ev.LevelOK && ev.BestBid == 0 && ev.BestAsk == 0 {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// mapLastTradeMsg convierte un print. Sin precio válido no hay evento.
func mapLastTradeMsg(m wsLastTradeMsg) (domain.LastTradeEvent, bool) {
	price, ok := domain.ParsePrice(string(m.Price))
	if m.AssetID == "" || !ok || price <= 0 {
		return domain.LastTradeEvent{}, false
	}
	size, ok := domain.ParsePrice(string(m.Size))
	if !ok || size < 0 {
		size = 0
	}
	return domain.LastTradeEvent{Trade: domain.Trade{
		TokenID:   string(m.AssetID),
		Side:      strings.ToUpper(string(m.Side)),
		Price:     price,
		Size:      size,
		Timestamp: parseMillis(string(m.Timestamp)),
	}}, true
}

// mapGammaEvent extrae la sesión del primer mercado del evento.
func mapGammaEvent(ev gammaEvent) (domain.Session, error) {
	if len(ev.Markets) == 0 {
		return domain.Session{}, fmt.Errorf("event %q has no markets", ev.Slug)
	}
	m := ev.Markets[0]
	if len(m.Outcomes) != len(m.ClobTokenIDs) {
		return domain.Session{}, fmt.Errorf("outcomes/token ids length mismatch: %d vs %d",
			len(m.Outcomes), len(m.ClobTokenIDs))
	}

	sess := domain.Session{
		MarketID: m.ConditionID,
		Slug:     ev.Slug,
		EndDate:  parseISO(ev.EndDate),
	}
	if sess.EndDate.IsZero() {
		sess.EndDate = parseISO(m.EndDate)
	}
	for i, outcome := range m.Outcomes {
		switch {
		case strings.EqualFold(outcome, string(domain.OutcomeUp)), strings.EqualFold(outcome, "Yes"):
			sess.UpTokenID = m.ClobTokenIDs[i]
		case strings.EqualFold(outcome, string(domain.OutcomeDown)), strings.EqualFold(outcome, "No"):
			sess.DownTokenID = m.ClobTokenIDs[i]
		}
	}
	if sess.MarketID == "" || sess.UpTokenID == "" || sess.DownTokenID == "" {
		return domain.Session{}, fmt.Errorf("event %q: incomplete market ids", ev.Slug)
	}
	return sess, nil
}

// parseMillis parsea un timestamp en milisegundos como string. Zero si falta.
func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// parseISO prueba los formatos de fecha que usa Gamma.
func parseISO(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseTradeTimestamp acepta segundos o milisegundos unix, o ISO.
func parseTradeTimestamp(s string) time.Time {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.UnixMilli(sec)
		}
		return time.Unix(sec, 0)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec)
	}
	return parseISO(s)
}
