// Package broadcast fans realtime states out to the viewers subscribed to a
// device.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"greenhouse-server/internal/metrics"
	"greenhouse-server/internal/modules/greenhouse/types"
)

const sendBuffer = 16

// StateSource returns the cached realtime state of a device, if any.
type StateSource interface {
	Get(id types.DeviceID) (types.RealtimeState, bool)
}

// Subscription is one viewer bound to one device. Its channel is closed when
// the subscription is removed from the hub.
type Subscription struct {
	id     string
	device types.DeviceID
	send   chan types.RealtimeFrame
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Device() types.DeviceID { return s.device }

// C delivers frames in notification order.
func (s *Subscription) C() <-chan types.RealtimeFrame { return s.send }

type Hub struct {
	mu     sync.Mutex
	subs   map[types.DeviceID]map[*Subscription]struct{}
	count  int
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[types.DeviceID]map[*Subscription]struct{}),
		logger: logger,
	}
}

func (h *Hub) Subscribe(id types.DeviceID) *Subscription {
	return h.SubscribeSeeded(id, nil)
}

// SubscribeSeeded registers a subscription and, when src holds a state for
// id, queues it as the first frame. The seed is read under the hub lock so no
// notification for id can slip between the snapshot and the registration.
func (h *Hub) SubscribeSeeded(id types.DeviceID, src StateSource) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		device: id,
		send:   make(chan types.RealtimeFrame, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[id]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[id] = set
	}
	set[sub] = struct{}{}
	h.count++
	metrics.Subscribers.Set(float64(h.count))

	if src != nil {
		if st, ok := src.Get(id); ok {
			sub.send <- st.Frame()
		}
	}

	h.logger.Debug("realtime subscriber added", "device_id", id, "subscription", sub.id, "total", h.count)
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.remove(sub) {
		h.logger.Debug("realtime subscriber removed", "device_id", sub.device, "subscription", sub.id, "total", h.count)
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscription) bool {
	set, ok := h.subs[sub.device]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.device)
	}
	close(sub.send)
	h.count--
	metrics.Subscribers.Set(float64(h.count))
	return true
}

// Notify delivers st to every subscription bound to id without blocking. A
// subscription whose buffer is full is dropped; its viewer reconnects.
func (h *Hub) Notify(id types.DeviceID, st types.RealtimeState) {
	frame := st.Frame()

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[id] {
		select {
		case sub.send <- frame:
		default:
			h.remove(sub)
			metrics.DeliveryDropped.Inc()
			h.logger.Warn("realtime subscriber too slow, dropped",
				"device_id", id,
				"subscription", sub.id,
			)
		}
	}
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Hub) CountFor(id types.DeviceID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

// Close removes every subscription, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			h.remove(sub)
		}
	}
}
