package notification

import "sync"

const subscriptionBuffer = 16

// Hub fans published notifications out to the live subscriptions of their recipients.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{} // {userID: subscriptions}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription receives the notifications of one user until closed.
type Subscription struct {
	UserID string
	C      <-chan Notification

	ch   chan Notification
	hub  *Hub
	once sync.Once
}

// Subscribe registers a subscription for the user. The caller must Close it.
func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan Notification, subscriptionBuffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		sub.once.Do(func() {})
		return sub
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if userSubs, ok := h.subs[s.UserID]; ok {
			delete(userSubs, s)
			if len(userSubs) == 0 {
				delete(h.subs, s.UserID)
			}
		}
		close(s.ch)
	})
}

// Publish delivers notifications without blocking; subscribers that fall behind miss them.
// It returns the number of deliveries.
func (h *Hub) Publish(notes ...Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, n := range notes {
		for sub := range h.subs[n.UserID] {
			select {
			case sub.ch <- n:
				delivered++
			default:
			}
		}
	}
	return delivered
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, userSubs := range h.subs {
		n += len(userSubs)
	}
	return n
}

// Close closes every subscription; later subscriptions are closed on creation.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, userSubs := range subs {
		for sub := range userSubs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
}
