package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"fluxrisk/core/types"
)

const (
	defaultHistoryLimit = 1024
	subscriberBuffer    = 32
)

// Envelope is a rendered event tagged with its position in the stream.
type Envelope struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

func (e Envelope) clone() Envelope {
	e.Event = e.Event.Clone()
	return e
}

// Broadcaster is an Emitter that keeps a bounded history of rendered events
// and fans them out to live subscribers. Slow subscribers drop events rather
// than block the emitting engine.
type Broadcaster struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	nextID  uint64
	history []Envelope
	subs    map[uint64]chan Envelope
}

// NewBroadcaster constructs a broadcaster retaining at most limit events. A
// non-positive limit selects the default.
func NewBroadcaster(limit int) *Broadcaster {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Broadcaster{limit: limit, subs: make(map[uint64]chan Envelope)}
}

// Emit implements the Emitter interface.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil {
		return
	}
	rendered := Render(evt)
	if rendered == nil {
		return
	}

	b.mu.Lock()
	b.seq++
	env := Envelope{Sequence: b.seq, Cursor: strconv.FormatUint(b.seq, 10), Event: rendered}
	b.history = append(b.history, env.clone())
	if len(b.history) > b.limit {
		excess := len(b.history) - b.limit
		trimmed := make([]Envelope, b.limit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	subscribers := make([]chan Envelope, 0, len(b.subs))
	for _, ch := range b.subs {
		subscribers = append(subscribers, ch)
	}
	b.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- env.clone():
		default:
		}
	}
}

// Subscribe registers a subscriber for events emitted after the supplied
// cursor. The backlog contains retained events newer than the cursor. The
// returned cancel function is idempotent and is also invoked when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context, cursor string) (<-chan Envelope, func(), []Envelope) {
	updates := make(chan Envelope, subscriberBuffer)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	history := make([]Envelope, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]Envelope, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, entry.clone())
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}
