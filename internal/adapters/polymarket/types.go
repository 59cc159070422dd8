package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// DTOs raw de la API y del market channel de Polymarket. Solo se usan dentro
// de este paquete. La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// bookEntryRaw es un nivel de precio raw. Polymarket manda strings, pero un
// número también se acepta.
type bookEntryRaw struct {
	Price flexString `json:"price"`
	Size  flexString `json:"size"`
}

// --- Market channel (WS) ---

// wsEnvelope solo sirve para despachar por event_type.
type wsEnvelope struct {
	EventType string `json:"event_type"`
}

// bookMsg es un snapshot completo de un token: el mensaje "book" del feed y
// cada item de la respuesta de POST /books. Algunas versiones del feed usan
// buys/sells en vez de bids/asks.
type bookMsg struct {
	Market    flexString                `json:"market"`
	AssetID   flexString                `json:"asset_id"`
	Timestamp flexString                `json:"timestamp"`
	Bids      lenientList[bookEntryRaw] `json:"bids"`
	Buys      lenientList[bookEntryRaw] `json:"buys"`
	Asks      lenientList[bookEntryRaw] `json:"asks"`
	Sells     lenientList[bookEntryRaw] `json:"sells"`
}

// wsPriceChangeMsg agrupa deltas de uno o varios tokens. El formato antiguo
// traía un solo delta en el nivel superior del mensaje.
type wsPriceChangeMsg struct {
	Market       flexString                 `json:"market"`
	Timestamp    flexString                 `json:"timestamp"`
	PriceChanges lenientList[wsPriceChange] `json:"price_changes"`
	wsPriceChange
}

type wsPriceChange struct {
	AssetID flexString `json:"asset_id"`
	Price   flexString `json:"price"`
	Size    flexString `json:"size"`
	Side    flexString `json:"side"`
	BestBid flexString `json:"best_bid"`
	BestAsk flexString `json:"best_ask"`
}

// wsLastTradeMsg es un print del tape.
type wsLastTradeMsg struct {
	Market    flexString `json:"market"`
	AssetID   flexString `json:"asset_id"`
	Price     flexString `json:"price"`
	Size      flexString `json:"size"`
	Side      flexString `json:"side"`
	Timestamp flexString `json:"timestamp"`
}

// flexString acepta un string o un número JSON. Cualquier otro valor deja el
// campo vacío: el campo se pierde, el mensaje no.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*s = ""
	if len(b) == 0 {
		return nil
	}
	switch c := b[0]; {
	case c == '"':
		var v string
		if json.Unmarshal(b, &v) == nil {
			*s = flexString(v)
		}
	case c == '-' || (c >= '0' && c <= '9'):
		*s = flexString(b)
	}
	return nil
}

// lenientList decodifica un array elemento a elemento y descarta los que no
// encajan en T. Un valor que no es array cuenta como ausente.
type lenientList[T any] []T

func (l *lenientList[T]) UnmarshalJSON(b []byte) error {
	*l = nil
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil || raw == nil {
		return nil
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			slog.Debug("feed: malformed item dropped", "err", err)
			continue
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// --- Gamma API ---

// gammaEvent es la respuesta de GET /events/slug/{slug}.
type gammaEvent struct {
	Slug    string        `json:"slug"`
	EndDate string        `json:"endDate"`
	Markets []gammaMarket `json:"markets"`
}

// gammaMarket contiene los ids del mercado binario del evento.
// Gamma devuelve outcomes y clobTokenIds como strings JSON ("[\"Up\",\"Down\"]").
type gammaMarket struct {
	ConditionID  string     `json:"conditionId"`
	Question     string     `json:"question"`
	Slug         string     `json:"slug"`
	EndDate      string     `json:"endDate"`
	Outcomes     stringList `json:"outcomes"`
	ClobTokenIDs stringList `json:"clobTokenIds"`
	Active       bool       `json:"active"`
	Closed       bool       `json:"closed"`
}

// stringList acepta tanto un array JSON como un string con un array JSON dentro.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("stringList: %w", err)
	}
	if s == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return fmt.Errorf("stringList: embedded json: %w", err)
	}
	*l = arr
	return nil
}

// --- Data API ---

type rawDataTrade struct {
	Asset     string      `json:"asset"`
	Side      string      `json:"side"`
	Price     json.Number `json:"price"`
	Size      json.Number `json:"size"`
	Timestamp json.Number `json:"timestamp"`
}
