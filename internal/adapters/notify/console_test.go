package notify_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/polypaper/internal/adapters/notify"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestConsole_PrintPaperStatus(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintPaperStatus(notify.PaperStatusInput{
		Now:        time.Date(2025, 1, 1, 12, 30, 5, 0, time.UTC),
		OpenOrders: 2,
		Cash:       995.5,
		Reserved:   4.5,
		Fills:      1,
		Skips:      3,
		Rollovers:  []string{"btc-15m a→b", "eth-15m c→d", "sol-15m e→f"},
	})

	out := buf.String()
	assert.Contains(t, out, "[12:30:05][PAPER] 2 open")
	assert.Contains(t, out, "cash $995.50")
	assert.Contains(t, out, "3 skip")
	assert.Contains(t, out, "rollover btc-15m a→b")
	assert.Contains(t, out, "+1 more rollovers")
	assert.NotContains(t, out, "sol-15m")
}

func TestConsole_PrintPaperReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf).PrintPaperReport(domain.PaperStats{StartingCash: 1000, Cash: 1000})
	assert.Contains(t, buf.String(), "No paper orders yet")
}

func TestConsole_PrintPaperReport(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	n.PrintPaperReport(domain.PaperStats{
		StartingCash: 1000,
		Cash:         995.5,
		Reserved:     2,
		Orders: []domain.OrderSnapshot{
			{OrderID: "ord-aaaaaaaaaaaaaaaa", Instrument: "btc-15m", Outcome: domain.OutcomeUp, Price: 0.45, OriginalSize: 10, MatchedSize: 10, LastEvent: domain.OrderEventFilled, SubmittedAt: t0},
			{OrderID: "ord-b", Instrument: "btc-15m", Outcome: domain.OutcomeDown, Price: 0.40, OriginalSize: 10, MatchedSize: 0, LastEvent: domain.OrderEventCancelled, SubmittedAt: t0},
		},
		Positions: []domain.PositionSnapshot{{TokenID: "tok-up", Size: 10, AvgPrice: 0.45}},
		EventCounts: map[domain.TelemetryKind]int{
			domain.TelemetrySubmit: 2,
			domain.TelemetryFill:   1,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "PAPER TRADING REPORT")
	assert.Contains(t, out, "ord-aaaaa...")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "$4.50", "deployed = 1000 - 995.5")
	assert.Contains(t, out, "Fully filled:          1")
	assert.Contains(t, out, "Cancelled:             1")
	assert.True(t, strings.Index(out, "FILL:") < strings.Index(out, "SUBMIT:"), "eventos ordenados")
}
