package telemetry

import (
	"context"
	"errors"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

// Fanout reenvía cada evento a todos los sinks. Un sink que falla no impide
// que los demás reciban el evento.
type Fanout []ports.EventSink

// Emit implementa ports.EventSink.
func (f Fanout) Emit(ctx context.Context, ev domain.OrderTelemetry) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
