package ports

import (
	"context"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// SessionProvider resuelve el mercado de 15 minutos vigente para un slug.
type SessionProvider interface {
	// FetchSession devuelve condition_id y tokens Up/Down del mercado con ese slug.
	FetchSession(ctx context.Context, slug string) (domain.Session, error)
}
