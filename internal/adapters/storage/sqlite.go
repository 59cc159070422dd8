package storage

// sqlite.go: persistencia del ledger paper, ligera y sin ruido.
//
// Estrategia:
//   - `paper_orders`: UNA fila por orden (UPSERT por id), refleja el último evento.
//   - `paper_positions`: UNA fila por token (UPSERT), tamaño y precio medio.
//   - `paper_cash`: histórico del saldo, una fila por fill.
//   - `order_events`: el stream de telemetría de órdenes, append-only.
//   - Cache en memoria: evita reescribir una orden si ni el evento ni el
//     matched cambiaron (los re-tags idénticos son frecuentes).
//   - Prune automático al arrancar: eventos y saldo > 30d.

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
-- Una fila por orden paper, con el último estado conocido
CREATE TABLE IF NOT EXISTS paper_orders (
    id            TEXT PRIMARY KEY,
    instrument    TEXT NOT NULL,
    market_id     TEXT NOT NULL,
    token_id      TEXT NOT NULL,
    outcome       TEXT NOT NULL,
    side          TEXT NOT NULL,
    price         REAL NOT NULL,
    original_size REAL NOT NULL,
    matched_size  REAL NOT NULL DEFAULT 0,
    last_event    TEXT NOT NULL,
    strategy_id   TEXT,
    submitted_at  DATETIME NOT NULL,
    placed_at     DATETIME,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS paper_positions (
    token_id   TEXT PRIMARY KEY,
    size       REAL NOT NULL DEFAULT 0,
    avg_price  REAL NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS paper_cash (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    cash       REAL NOT NULL,
    at         DATETIME NOT NULL
);

-- Stream de eventos de órdenes (SUBMIT, ACK, FILL, ...)
CREATE TABLE IF NOT EXISTS order_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    action      TEXT NOT NULL,
    session_id  TEXT,
    instrument  TEXT,
    token_id    TEXT,
    outcome     TEXT,
    strategy_id TEXT,
    order_id    TEXT,
    side        TEXT,
    price       REAL NOT NULL DEFAULT 0,
    size        REAL NOT NULL DEFAULT 0,
    fill_pct    REAL NOT NULL DEFAULT 0,
    fill_qty    REAL NOT NULL DEFAULT 0,
    avg_fill_px REAL NOT NULL DEFAULT 0,
    ack_ms      INTEGER NOT NULL DEFAULT 0,
    fill_ms     INTEGER NOT NULL DEFAULT 0,
    reason      TEXT,
    recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_market ON paper_orders(market_id);
CREATE INDEX IF NOT EXISTS idx_orders_event  ON paper_orders(last_event);
CREATE INDEX IF NOT EXISTS idx_events_order  ON order_events(order_id);
CREATE INDEX IF NOT EXISTS idx_events_action ON order_events(action);
CREATE INDEX IF NOT EXISTS idx_cash_at       ON paper_cash(at DESC);
`

const retention = 30 * 24 * time.Hour

// cachedOrder es lo último que se escribió de una orden.
type cachedOrder struct {
	event   string
	matched float64
}

// SQLiteStorage implementa ports.LedgerStore y ports.EventSink usando SQLite
// (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	now   func() time.Time
	cache map[string]cachedOrder // orderID → estado guardado
	mu    sync.Mutex
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		now:   time.Now,
		cache: make(map[string]cachedOrder),
	}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(s.now().Add(-retention))
	s.db.ExecContext(ctx, `DELETE FROM order_events WHERE recorded_at < ?`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM paper_cash WHERE at < ?`, cutoff)
}

// changed devuelve true si la orden difiere de lo último escrito y actualiza la cache.
func (s *SQLiteStorage) changed(id, event string, matched float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cache[id]; ok && prev.event == event && prev.matched == matched {
		return false
	}
	s.cache[id] = cachedOrder{event: event, matched: matched}
	return true
}

func (s *SQLiteStorage) forget(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
