package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// SaveOrder hace upsert del registro de una orden. Si ni el evento ni el
// matched cambiaron desde la última escritura no toca la DB.
func (s *SQLiteStorage) SaveOrder(ctx context.Context, o domain.OrderSnapshot) error {
	if !s.changed(o.OrderID, string(o.LastEvent), o.MatchedSize) {
		return nil
	}

	var placedAt *string
	if o.PlacedAt != nil {
		t := formatTime(*o.PlacedAt)
		placedAt = &t
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_orders
			(id, instrument, market_id, token_id, outcome, side, price, original_size,
			 matched_size, last_event, strategy_id, submitted_at, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			matched_size = MAX(matched_size, excluded.matched_size),
			last_event   = excluded.last_event,
			placed_at    = COALESCE(paper_orders.placed_at, excluded.placed_at),
			updated_at   = excluded.updated_at`,
		o.OrderID, o.Instrument, o.MarketID, o.TokenID, string(o.Outcome), o.Side,
		o.Price, o.OriginalSize, o.MatchedSize, string(o.LastEvent), o.StrategyID,
		formatTime(o.SubmittedAt), placedAt, formatTime(o.UpdatedAt),
	)
	if err != nil {
		s.forget(o.OrderID)
		return fmt.Errorf("storage.SaveOrder: %w", err)
	}
	return nil
}

// SavePosition hace upsert de la posición de un token.
func (s *SQLiteStorage) SavePosition(ctx context.Context, p domain.PositionSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_positions (token_id, size, avg_price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			size       = excluded.size,
			avg_price  = excluded.avg_price,
			updated_at = excluded.updated_at`,
		p.TokenID, p.Size, p.AvgPrice, formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %w", err)
	}
	return nil
}

// SaveCash añade una fila al histórico de saldo.
func (s *SQLiteStorage) SaveCash(ctx context.Context, cash float64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO paper_cash (cash, at) VALUES (?, ?)`, cash, formatTime(at),
	); err != nil {
		return fmt.Errorf("storage.SaveCash: %w", err)
	}
	return nil
}

// Emit guarda un evento del stream de órdenes. Implementa ports.EventSink.
func (s *SQLiteStorage) Emit(ctx context.Context, ev domain.OrderTelemetry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events
			(action, session_id, instrument, token_id, outcome, strategy_id, order_id, side,
			 price, size, fill_pct, fill_qty, avg_fill_px, ack_ms, fill_ms, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.SessionID, ev.Instrument, ev.TokenID, string(ev.Outcome),
		ev.StrategyID, ev.OrderID, ev.Side, ev.Price, ev.Size, ev.FillPct, ev.FillQty,
		ev.AvgFillPx, ev.AckMs, ev.FillMs, ev.Reason, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("storage.Emit: %w", err)
	}
	return nil
}

// LoadOrders devuelve todas las órdenes guardadas, las más antiguas primero.
func (s *SQLiteStorage) LoadOrders(ctx context.Context) ([]domain.OrderSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instrument, market_id, token_id, outcome, side, price, original_size,
		       matched_size, last_event, strategy_id, submitted_at, placed_at, updated_at
		FROM paper_orders
		ORDER BY submitted_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOrders: query: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderSnapshot
	for rows.Next() {
		var o domain.OrderSnapshot
		var outcome, event, submitted, updated string
		var strategy, placed sql.NullString
		if err := rows.Scan(
			&o.OrderID, &o.Instrument, &o.MarketID, &o.TokenID, &outcome, &o.Side,
			&o.Price, &o.OriginalSize, &o.MatchedSize, &event, &strategy,
			&submitted, &placed, &updated,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadOrders: scan row: %w", err)
		}
		o.Outcome = domain.Outcome(outcome)
		o.LastEvent = domain.OrderEvent(event)
		o.StrategyID = strategy.String
		o.SubmittedAt = parseTime(submitted)
		o.UpdatedAt = parseTime(updated)
		if placed.Valid {
			t := parseTime(placed.String)
			o.PlacedAt = &t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// LoadPositions devuelve las posiciones ordenadas por token.
func (s *SQLiteStorage) LoadPositions(ctx context.Context) ([]domain.PositionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token_id, size, avg_price, updated_at FROM paper_positions ORDER BY token_id`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PositionSnapshot
	for rows.Next() {
		var p domain.PositionSnapshot
		var updated string
		if err := rows.Scan(&p.TokenID, &p.Size, &p.AvgPrice, &updated); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: scan row: %w", err)
		}
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestCash devuelve el último saldo guardado. ok=false si no hay ninguno.
func (s *SQLiteStorage) LatestCash(ctx context.Context) (cash float64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT cash FROM paper_cash ORDER BY id DESC LIMIT 1`).Scan(&cash)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage.LatestCash: %w", err)
	}
	return cash, true, nil
}

// EventCounts cuenta los eventos guardados por acción.
func (s *SQLiteStorage) EventCounts(ctx context.Context) (map[domain.TelemetryKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM order_events GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("storage.EventCounts: query: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.TelemetryKind]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("storage.EventCounts: scan row: %w", err)
		}
		out[domain.TelemetryKind(action)] = n
	}
	return out, rows.Err()
}
