package polymarket

// feed.go: parser del market channel de Polymarket.
//
// Un frame puede traer un objeto o un array de objetos; cada uno se despacha
// por event_type. Los campos, niveles y deltas mal formados se descartan uno a
// uno (ver flexString y lenientList) y los event_type desconocidos se
// ignoran: el parser nunca falla por datos.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

const (
	eventBook       = "book"
	eventPriceChang = "price_change"
	eventLastTrade  = "last_trade_price"
)

// ParseMessage convierte un frame raw del feed en eventos de dominio.
// Devuelve error solo si el frame no es JSON (p.ej. "PONG").
func ParseMessage(raw []byte) ([]domain.FeedEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("polymarket.ParseMessage: %w", err)
		}
	case '{':
		items = []json.RawMessage{raw}
	default:
		return nil, fmt.Errorf("polymarket.ParseMessage: not a json frame: %q", truncate(raw, 16))
	}

	var out []domain.FeedEvent
	for _, item := range items {
		var env wsEnvelope
		if err := json.Unmarshal(item, &env); err != nil {
			slog.Debug("feed: malformed item dropped", "err", err)
			continue
		}
		switch env.EventType {
		case eventBook:
			var m bookMsg
			if err := json.Unmarshal(item, &m); err != nil {
				slog.Debug("feed: malformed book dropped", "err", err)
				continue
			}
			if ev, ok := mapBookMsg(m); ok {
				out = append(out, ev)
			}
		case eventPriceChang:
			var m wsPriceChangeMsg
			if err := json.Unmarshal(item, &m); err != nil {
				slog.Debug("feed: malformed price_change dropped", "err", err)
				continue
			}
			out = append(out, mapPriceChangeMsg(m)...)
		case eventLastTrade:
			var m wsLastTradeMsg
			if err := json.Unmarshal(item, &m); err != nil {
				slog.Debug("feed: malformed last_trade_price dropped", "err", err)
				continue
			}
			if ev, ok := mapLastTradeMsg(m); ok {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
