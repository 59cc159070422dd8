package engine

import (
	"github.com/alejandrodnm/polypaper/internal/domain"
)

// QueuePosition devuelve el tamaño visible en el bid al tick del precio dado.
// FIFO dentro de un nivel de precio: solo los bids al mismo precio están delante.
func QueuePosition(book *domain.OrderBook, bidPrice float64) float64 {
	if book == nil {
		return 0
	}
	return book.BidSizeAt(domain.PriceToTick(bidPrice))
}

// TruncateStr trunca un string a maxLen caracteres añadiendo "..." si es necesario.
func TruncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
