package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// JSONLSink escribe un evento por línea. Seguro para uso concurrente.
type JSONLSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink escribe sobre w. Close no cierra w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w)}
}

// OpenJSONLFile abre (o crea) path en modo append.
func OpenJSONLFile(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("telemetry.OpenJSONLFile: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry.OpenJSONLFile: %w", err)
	}
	return &JSONLSink{enc: json.NewEncoder(f), closer: f}, nil
}

// Emit implementa ports.EventSink.
func (s *JSONLSink) Emit(_ context.Context, ev domain.OrderTelemetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("telemetry.JSONLSink: %w", err)
	}
	return nil
}

// Close cierra el fichero subyacente si lo abrió el sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
