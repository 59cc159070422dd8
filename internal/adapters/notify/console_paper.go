package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// PaperStatusInput bundles everything PrintPaperStatus needs.
type PaperStatusInput struct {
	Now        time.Time
	OpenOrders int
	Cash       float64
	Reserved   float64
	Opened     int // desde el último status
	Fills      int
	Cancelled  int
	Skips      int
	Rollovers  []string // "btc-15m 0xold→0xnew"
}

// PrintPaperStatus prints a compact 1-line heartbeat.
func (c *Console) PrintPaperStatus(in PaperStatusInput) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s][PAPER] %d open | cash $%.2f | rsv $%.2f | +%d open | +%d fills | +%d cxl | %d skip",
		in.Now.Format("15:04:05"), in.OpenOrders, in.Cash, in.Reserved,
		in.Opened, in.Fills, in.Cancelled, in.Skips)

	for i, r := range in.Rollovers {
		if i >= 2 {
			fmt.Fprintf(&sb, "\n  >> +%d more rollovers", len(in.Rollovers)-i)
			break
		}
		fmt.Fprintf(&sb, "\n  >> rollover %s", r)
	}
	fmt.Fprintln(c.out, sb.String())
}

// PrintPaperReport prints the end-of-run paper trading report.
func (c *Console) PrintPaperReport(stats domain.PaperStats) {
	if len(stats.Orders) == 0 && len(stats.Positions) == 0 {
		fmt.Fprintln(c.out, "\n  No paper orders yet. Feed some intents first.")
		return
	}

	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  PAPER TRADING REPORT\n")
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(stats.Orders) > 0 {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Order", "Instr", "Out", "Px", "Size", "Filled", "Fill%", "Last", "Submitted")
		for _, o := range stats.Orders {
			tbl.Append(
				truncate(o.OrderID, 12),
				truncate(o.Instrument, 12),
				string(o.Outcome),
				fmt.Sprintf("%.2f", o.Price),
				fmt.Sprintf("%.2f", o.OriginalSize),
				fmt.Sprintf("%.2f", o.MatchedSize),
				fmt.Sprintf("%.0f%%", o.FillPct()),
				truncate(string(o.LastEvent), 14),
				o.SubmittedAt.Format("15:04:05.000"),
			)
		}
		tbl.Render()
	}

	if len(stats.Positions) > 0 {
		fmt.Fprintf(c.out, "\n  --- POSITIONS ---\n")
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Token", "Shares", "AvgPx", "Cost$")
		for _, p := range stats.Positions {
			tbl.Append(
				truncate(p.TokenID, 18),
				fmt.Sprintf("%.2f", p.Size),
				fmt.Sprintf("%.4f", p.AvgPrice),
				fmt.Sprintf("$%.2f", p.Size*p.AvgPrice),
			)
		}
		tbl.Render()
	}

	filled, partial, cancelled := 0, 0, 0
	for _, o := range stats.Orders {
		switch {
		case o.LastEvent == domain.OrderEventFilled:
			filled++
		case o.MatchedSize > 0:
			partial++
		}
		if o.LastEvent == domain.OrderEventCancelled {
			cancelled++
		}
	}

	fmt.Fprintf(c.out, "\n  --- AGGREGATE ---\n")
	fmt.Fprintf(c.out, "  Orders:                %d\n", len(stats.Orders))
	fmt.Fprintf(c.out, "  Fully filled:          %d\n", filled)
	fmt.Fprintf(c.out, "  Partially filled:      %d\n", partial)
	fmt.Fprintf(c.out, "  Cancelled:             %d\n", cancelled)

	fmt.Fprintf(c.out, "\n  --- CASH ---\n")
	fmt.Fprintf(c.out, "  Starting cash:         $%.2f\n", stats.StartingCash)
	fmt.Fprintf(c.out, "  Cash:                  $%.2f\n", stats.Cash)
	fmt.Fprintf(c.out, "  Deployed in fills:     $%.2f\n", stats.Deployed())
	fmt.Fprintf(c.out, "  Reserved (open):       $%.2f\n", stats.Reserved)

	if len(stats.EventCounts) > 0 {
		fmt.Fprintf(c.out, "\n  --- EVENTS ---\n")
		kinds := make([]string, 0, len(stats.EventCounts))
		for k := range stats.EventCounts {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(c.out, "  %-22s %d\n", k+":", stats.EventCounts[domain.TelemetryKind(k)])
		}
	}
	fmt.Fprintln(c.out)
}
