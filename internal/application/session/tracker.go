package session

// tracker.go: resolución de la sesión vigente de cada instrumento.
//
// Los mercados de 15 minutos rotan: cada ventana tiene su propio slug
// ("btc-updown-15m-<inicio unix>"), condition_id y tokens. El Tracker deriva
// el slug de la ventana actual, lo resuelve contra Gamma cuando cambia y
// registra la sesión en el store. Los instrumentos con market/tokens fijos
// en config no consultan nada.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

// Window es la duración de una sesión.
const Window = 15 * time.Minute

// StartPlaceholder se sustituye por el inicio de la ventana en segundos unix.
const StartPlaceholder = "{start}"

// Registry recibe las sesiones resueltas. Lo implementa book.Store.
type Registry interface {
	SetSession(sess domain.Session) bool
}

// Instrument es la configuración de un instrumento seguido.
// Si Fixed es no-nil se usa tal cual y Slug se ignora.
type Instrument struct {
	Key   string
	Slug  string // puede contener {start}
	Fixed *domain.Session
}

// Rollover describe un cambio de sesión. From es "" en el primer registro.
type Rollover struct {
	Instrument string
	From       string
	To         string
}

func (r Rollover) String() string {
	return fmt.Sprintf("%s %s→%s", r.Instrument, shortID(r.From), shortID(r.To))
}

// Option configura un Tracker.
type Option func(*Tracker)

// WithClock inyecta el reloj, para tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker mantiene la sesión vigente de cada instrumento.
// No es seguro para uso concurrente: lo llama solo el loop del host.
type Tracker struct {
	provider    ports.SessionProvider
	registry    Registry
	instruments []Instrument
	now         func() time.Time

	current  map[string]domain.Session
	lastSlug map[string]string // último slug resuelto con éxito
}

// NewTracker crea un Tracker. provider puede ser nil si todos los
// instrumentos son fijos.
func NewTracker(provider ports.SessionProvider, registry Registry, instruments []Instrument, opts ...Option) *Tracker {
	t := &Tracker{
		provider:    provider,
		registry:    registry,
		instruments: instruments,
		now:         time.Now,
		current:     make(map[string]domain.Session),
		lastSlug:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Refresh resuelve la sesión actual de cada instrumento y devuelve los
// cambios, ordenados por instrumento. Un fallo de un instrumento no impide
// refrescar los demás; el primer error se devuelve al final.
func (t *Tracker) Refresh(ctx context.Context) ([]Rollover, error) {
	var (
		out      []Rollover
		firstErr error
	)
	for _, in := range t.instruments {
		sess, err := t.resolve(ctx, in)
		if err != nil {
			slog.Warn("session: resolve failed", "instrument", in.Key, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if sess == nil {
			continue
		}

		prev := t.current[in.Key]
		if !t.registry.SetSession(*sess) {
			continue
		}
		t.current[in.Key] = *sess
		out = append(out, Rollover{Instrument: in.Key, From: prev.MarketID, To: sess.MarketID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, firstErr
}

// Current devuelve la última sesión registrada de un instrumento.
func (t *Tracker) Current(instrument string) (domain.Session, bool) {
	s, ok := t.current[instrument]
	return s, ok
}

// resolve devuelve nil, nil si no hace falta tocar la sesión.
func (t *Tracker) resolve(ctx context.Context, in Instrument) (*domain.Session, error) {
	if in.Fixed != nil {
		sess := *in.Fixed
		sess.Instrument = in.Key
		return &sess, nil
	}

	slug := CurrentSlug(in.Slug, t.now())
	if slug == t.lastSlug[in.Key] {
		return nil, nil
	}
	if t.provider == nil {
		return nil, fmt.Errorf("session.Refresh: %s: no session provider for slug %q", in.Key, slug)
	}

	sess, err := t.provider.FetchSession(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("session.Refresh: %s: %w", in.Key, err)
	}
	sess.Instrument = in.Key
	if sess.Slug == "" {
		sess.Slug = slug
	}
	t.lastSlug[in.Key] = slug
	return &sess, nil
}

// CurrentSlug sustituye {start} por el inicio de la ventana que contiene now.
// Un slug sin placeholder se devuelve tal cual.
func CurrentSlug(template string, now time.Time) string {
	if !strings.Contains(template, StartPlaceholder) {
		return template
	}
	start := WindowStart(now).Unix()
	return strings.ReplaceAll(template, StartPlaceholder, strconv.FormatInt(start, 10))
}

// WindowStart alinea now al inicio de su ventana de 15 minutos (UTC).
func WindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(Window)
}

// NextWindow devuelve el inicio de la ventana siguiente a now.
func NextWindow(now time.Time) time.Time {
	return WindowStart(now).Add(Window)
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
