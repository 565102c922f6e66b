package stream

import "sync"

// Hub fans execution events out to every channel watching a run. The channel
// that started the execution is attached automatically; additional observers
// (a second browser tab, a dashboard) may attach to the same execution ID.
type Hub struct {
	// Map: execution ID → attached channels
	watchers map[string][]Channel
	mutex    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		watchers: make(map[string][]Channel),
	}
}

// Attach registers a channel as a watcher of an execution.
func (h *Hub) Attach(executionID string, ch Channel) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.watchers[executionID] = append(h.watchers[executionID], ch)
}

// Detach removes a channel from an execution's watcher list.
func (h *Hub) Detach(executionID string, ch Channel) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	chans := h.watchers[executionID]
	for i, c := range chans {
		if c == ch {
			h.watchers[executionID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(h.watchers[executionID]) == 0 {
		delete(h.watchers, executionID)
	}
}

// Publish sends an event to every watcher of the execution. Channels whose
// send fails are dropped from the watcher list; the event stream never
// blocks on a dead peer.
func (h *Hub) Publish(executionID string, v any) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	chans := h.watchers[executionID]
	if len(chans) == 0 {
		return
	}

	alive := chans[:0]
	for _, c := range chans {
		if err := c.Send(v); err == nil {
			alive = append(alive, c)
		}
	}
	h.watchers[executionID] = alive
	if len(alive) == 0 {
		delete(h.watchers, executionID)
	}
}

// WatcherCount returns the number of channels attached to an execution.
func (h *Hub) WatcherCount(executionID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.watchers[executionID])
}

// HubChannel adapts a Hub to the Channel interface so an execution context
// can emit to all watchers through the normal send path.
type HubChannel struct {
	hub         *Hub
	executionID string
}

// NewHubChannel binds a hub to one execution ID.
func NewHubChannel(hub *Hub, executionID string) *HubChannel {
	return &HubChannel{hub: hub, executionID: executionID}
}

func (c *HubChannel) Send(v any) error {
	c.hub.Publish(c.executionID, v)
	return nil
}

func (c *HubChannel) Close() error {
	return nil
}
