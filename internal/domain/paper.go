package domain

import (
	"math"
	"time"
)

// OrderEvent is the last lifecycle tag recorded for a paper order.
type OrderEvent string

const (
	OrderEventSubmit      OrderEvent = "SUBMIT"
	OrderEventOpen        OrderEvent = "OPEN"
	OrderEventPartialFill OrderEvent = "PARTIAL_FILL"
	OrderEventFilled      OrderEvent = "FILLED"
	OrderEventCancelReq   OrderEvent = "CANCEL_REQ"
	OrderEventCancelled   OrderEvent = "CANCELLED"
)

// SideBuy is the only side the paper broker simulates.
const SideBuy = "BUY"

// OrderSnapshot is the externally visible record of a paper order.
type OrderSnapshot struct {
	OrderID      string
	Instrument   string
	MarketID     string
	TokenID      string
	Outcome      Outcome
	Side         string
	Price        float64
	OriginalSize float64
	MatchedSize  float64
	LastEvent    OrderEvent
	StrategyID   string
	SubmittedAt  time.Time
	PlacedAt     *time.Time // set on OPEN
	UpdatedAt    time.Time
}

// Remaining returns original - matched, never negative.
func (o OrderSnapshot) Remaining() float64 {
	return math.Max(o.OriginalSize-o.MatchedSize, 0)
}

// FillPct returns the matched share of the order in percent.
func (o OrderSnapshot) FillPct() float64 {
	if o.OriginalSize <= 0 {
		return 0
	}
	return o.MatchedSize / o.OriginalSize * 100
}

// IsTerminal is true once the order can no longer change.
// Force-removed orders carry their removal reason as tag and are terminal too.
func (o OrderSnapshot) IsTerminal() bool {
	switch o.LastEvent {
	case OrderEventSubmit, OrderEventOpen, OrderEventPartialFill, OrderEventCancelReq:
		return false
	}
	return true
}

// PositionSnapshot is the running position in one outcome token.
type PositionSnapshot struct {
	TokenID   string
	Size      float64
	AvgPrice  float64 // VWAP of the fills that built Size
	UpdatedAt time.Time
}

// TelemetryKind is the action tag of an order telemetry record.
type TelemetryKind string

const (
	TelemetrySubmit      TelemetryKind = "SUBMIT"
	TelemetryAck         TelemetryKind = "ACK"
	TelemetryFill        TelemetryKind = "FILL"
	TelemetryPartialFill TelemetryKind = "PARTIAL_FILL"
	TelemetryCancelReq   TelemetryKind = "CANCEL_REQ"
	TelemetryCancel      TelemetryKind = "CANCEL"
	TelemetrySkip        TelemetryKind = "SKIP"
	TelemetryRemove      TelemetryKind = "REMOVE"
)

// OrderTelemetry is one record of the structured order event stream.
// Zero-valued optional fields are omitted by the JSONL sink.
type OrderTelemetry struct {
	Kind       TelemetryKind `json:"action"`
	SessionID  string        `json:"session_id"`
	Instrument string        `json:"instrument,omitempty"`
	TokenID    string        `json:"token_id,omitempty"`
	Outcome    Outcome       `json:"outcome,omitempty"`
	StrategyID string        `json:"strategy_id"`
	OrderID    string        `json:"order_id,omitempty"`
	Side       string        `json:"side"`
	Price      float64       `json:"price,omitempty"`
	Size       float64       `json:"size,omitempty"`

	SubmitTsMs int64   `json:"submit_ts_ms,omitempty"`
	AckTsMs    int64   `json:"ack_ts_ms,omitempty"`
	FillTsMs   int64   `json:"fill_ts_ms,omitempty"`
	AckMs      int64   `json:"ack_ms,omitempty"`
	FillMs     int64   `json:"fill_ms,omitempty"`
	FillPct    float64 `json:"fill_pct"`
	AvgFillPx  float64 `json:"avg_fill_q,omitempty"`
	FillQty    float64 `json:"fill_qty,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// PaperStats summarizes a run for the exit report.
type PaperStats struct {
	StartingCash float64
	Cash         float64
	Reserved     float64
	Orders       []OrderSnapshot
	Positions    []PositionSnapshot
	EventCounts  map[TelemetryKind]int
}

// Deployed returns the cash spent on fills so far.
func (s PaperStats) Deployed() float64 {
	return math.Max(s.StartingCash-s.Cash, 0)
}
