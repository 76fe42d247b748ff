package bus

import (
	"encoding/json"
	"slices"

	"github.com/sipeed/clawfeed/pkg/events"
)

// ring is a fixed-capacity FIFO of events. Not safe for concurrent use; the
// EventBus lock guards it.
type ring struct {
	buf   []events.Event
	start int // index of the oldest event
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]events.Event, capacity)}
}

// push appends e, overwriting the oldest entry when full.
func (r *ring) push(e events.Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot returns the retained events oldest first, in a new slice. Raw JSON
// payloads are cloned; other payloads are shared.
func (r *ring) snapshot() []events.Event {
	out := make([]events.Event, r.size)
	for i := 0; i < r.size; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if raw, ok := e.Data.(json.RawMessage); ok {
			e.Data = slices.Clone(raw)
		}
		out[i] = e
	}
	return out
}

func (r *ring) len() int { return r.size }

func (r *ring) cap() int { return len(r.buf) }
