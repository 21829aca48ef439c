package eventbus

import (
	"sync"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// History is a fixed-size ring of recent events. It exists for operators,
// nothing replays from it.
type History struct {
	mu    sync.Mutex
	buf   []domain.Event
	next  int
	count int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{buf: make([]domain.Event, size)}
}

func (h *History) Add(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = ev
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Last returns up to n events, oldest first. n <= 0 returns everything held.
func (h *History) Last(n int) []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]domain.Event, 0, n)
	start := (h.next - n + len(h.buf)) % len(h.buf)
	for i := 0; i < n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}
