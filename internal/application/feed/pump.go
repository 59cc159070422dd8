package feed

// pump.go: lectura de un stream de market data grabado.
//
// Cada fuente (fichero NDJSON con mensajes crudos del canal market) corre en
// su propia goroutine. Los eventos se aplican al store en orden de llegada y
// solo se despierta al consumidor cuando cambió el best bid o el best ask.

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// maxLine es el tamaño máximo de una línea: los snapshots completos de
// libro pueden pasar de los 64KB por defecto de bufio.Scanner.
const maxLine = 4 << 20

// Applier aplica un evento parseado al libro. Lo implementa book.Store.
type Applier interface {
	Apply(ev domain.FeedEvent) (instrument string, changed bool)
}

// ParseFunc convierte un mensaje crudo en eventos. Ver polymarket.ParseMessage.
type ParseFunc func(raw []byte) ([]domain.FeedEvent, error)

// Stats resume lo que hizo un Run.
type Stats struct {
	Lines       int
	Events      int
	Applied     int // eventos de tokens conocidos
	Ignored     int // tokens que no pertenecen a ninguna sesión vigente
	ParseErrors int
}

// PumpOption configura un Pump.
type PumpOption func(*Pump)

// WithObserver registra un callback por cada evento aplicado.
func WithObserver(fn func(domain.FeedEvent)) PumpOption {
	return func(p *Pump) { p.observe = fn }
}

// WithLineDelay espera d entre líneas, para reproducir un fichero a ritmo.
func WithLineDelay(d time.Duration) PumpOption {
	return func(p *Pump) { p.delay = d }
}

// Pump lee mensajes crudos y los aplica a un Applier.
type Pump struct {
	name    string
	books   Applier
	parse   ParseFunc
	wake    *Wake
	observe func(domain.FeedEvent)
	delay   time.Duration
}

// NewPump crea un Pump. wake puede ser nil.
func NewPump(name string, books Applier, parse ParseFunc, wake *Wake, opts ...PumpOption) *Pump {
	p := &Pump{name: name, books: books, parse: parse, wake: wake}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consume r hasta EOF o hasta que se cancele ctx.
func (p *Pump) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var st Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var ticker *time.Ticker
	if p.delay > 0 {
		ticker = time.NewTicker(p.delay)
		defer ticker.Stop()
	}

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return st, ctx.Err()
			case <-ticker.C:
			}
		}

		st.Lines++
		events, err := p.parse(sc.Bytes())
		if err != nil {
			st.ParseErrors++
			slog.Debug("feed: skipping unparsable line",
				"source", p.name, "line", st.Lines, "err", err)
			continue
		}
		p.applyAll(events, &st)
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("feed.Pump.Run: %s: %w", p.name, err)
	}

	slog.Info("feed: source drained",
		"source", p.name,
		"lines", st.Lines,
		"events", st.Events,
		"applied", st.Applied,
		"ignored", st.Ignored,
		"parse_errors", st.ParseErrors,
	)
	return st, nil
}

func (p *Pump) applyAll(events []domain.FeedEvent, st *Stats) {
	for _, ev := range events {
		st.Events++
		instrument, changed := p.books.Apply(ev)
		if instrument == "" {
			st.Ignored++
			continue
		}
		st.Applied++
		if p.observe != nil {
			p.observe(ev)
		}
		if changed && p.wake != nil {
			p.wake.Signal(instrument)
		}
	}
}
