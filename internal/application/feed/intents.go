package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alejandrodnm/polypaper/internal/application/engine/paper"
	"github.com/alejandrodnm/polypaper/internal/domain"
)

// intentRecord es una línea del fichero de intents.
//
//	{"after_ms":500,"instrument":"btc-15m","outcome":"Up","price":0.45,"size":10}
//	{"after_ms":2000,"instrument":"btc-15m","outcome":"Up","no_order":true}
type intentRecord struct {
	AfterMs    int64   `json:"after_ms"`
	Instrument string  `json:"instrument"`
	Outcome    string  `json:"outcome"`
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	NoOrder    bool    `json:"no_order"`
}

// ScheduledIntent es un intent con su espera respecto al anterior.
type ScheduledIntent struct {
	After  time.Duration
	Intent paper.Intent
}

// ReadIntents decodifica un fichero JSONL de intents. Las líneas vacías y
// las que empiezan por '#' se saltan; cualquier otra línea inválida es error.
func ReadIntents(r io.Reader) ([]ScheduledIntent, error) {
	var out []ScheduledIntent
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var rec intentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("feed.ReadIntents: line %d: %w", line, err)
		}
		outcome, err := parseOutcome(rec.Outcome)
		if err != nil {
			return nil, fmt.Errorf("feed.ReadIntents: line %d: %w", line, err)
		}
		if rec.Instrument == "" {
			return nil, fmt.Errorf("feed.ReadIntents: line %d: missing instrument", line)
		}
		if rec.AfterMs < 0 {
			rec.AfterMs = 0
		}

		out = append(out, ScheduledIntent{
			After: time.Duration(rec.AfterMs) * time.Millisecond,
			Intent: paper.Intent{
				Instrument: rec.Instrument,
				Outcome:    outcome,
				NoOrder:    rec.NoOrder,
				Price:      rec.Price,
				Size:       rec.Size,
			},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feed.ReadIntents: %w", err)
	}
	return out, nil
}

func parseOutcome(s string) (domain.Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "yes":
		return domain.OutcomeUp, nil
	case "down", "no":
		return domain.OutcomeDown, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}
