package feed

import (
	"sort"
	"sync"
)

// Wake es una señal level-triggered: los productores marcan instrumentos
// como pendientes y el consumidor los recoge todos de una vez. Varios
// Signal antes de un Drain se colapsan en una sola notificación.
type Wake struct {
	mu      sync.Mutex
	pending map[string]struct{}
	ch      chan struct{}
}

// NewWake crea una señal vacía.
func NewWake() *Wake {
	return &Wake{
		pending: make(map[string]struct{}),
		ch:      make(chan struct{}, 1),
	}
}

// Signal marca el instrumento como pendiente. Nunca bloquea.
func (w *Wake) Signal(instrument string) {
	w.mu.Lock()
	w.pending[instrument] = struct{}{}
	w.mu.Unlock()

	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C devuelve el canal que recibe un valor cuando hay algo pendiente.
func (w *Wake) C() <-chan struct{} { return w.ch }

// Drain devuelve los instrumentos pendientes, ordenados, y vacía el set.
func (w *Wake) Drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.pending))
	for k := range w.pending {
		out = append(out, k)
	}
	clear(w.pending)
	sort.Strings(out)
	return out
}
