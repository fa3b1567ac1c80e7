package supervise

import (
	"sync"

	"github.com/poidh-tools/bountydeck/pkg/core"
)

// hub broadcasts job status snapshots to all current subscribers.
type hub struct {
	mu   sync.Mutex
	subs []chan core.Job
}

func newHub() *hub {
	return &hub{}
}

func (h *hub) subscribe() <-chan core.Job {
	ch := make(chan core.Job, 64)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}

func (h *hub) publish(j core.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		ch <- j
	}
}
