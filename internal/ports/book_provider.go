package ports

import (
	"context"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// BookProvider obtiene orderbooks del CLOB usando el endpoint batch.
// Se usa solo para el arranque en frío, antes de que llegue el feed incremental.
type BookProvider interface {
	// FetchOrderBooks devuelve un snapshot por token, listo para Store.Apply.
	// Con error puede devolver igualmente los libros que sí llegaron.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) ([]domain.FullBookEvent, error)
}

// BookReader da acceso de solo lectura a los libros reconstruidos.
type BookReader interface {
	// Snapshot devuelve una copia de la sesión y los dos libros del instrumento.
	Snapshot(instrument string) (domain.BookSnapshot, bool)
}
