package notify

import (
	"sync"

	"github.com/hperssn/moodflow/internal/domain"
)

const defaultBuffer = 4

type subscriber struct {
	events chan domain.StatsReport
}

// Hub fans out stats updates to the live subscribers of each user.
// Slow subscribers miss updates instead of blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers a listener for userID. The returned cancel func
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(userID string) (<-chan domain.StatsReport, func()) {
	sub := &subscriber{events: make(chan domain.StatsReport, defaultBuffer)}

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
			close(sub.events)
		})
	}
	return sub.events, cancel
}

func (h *Hub) Publish(userID string, report domain.StatsReport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[userID] {
		select {
		case sub.events <- report:
		default:
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
