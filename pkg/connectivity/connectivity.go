// Package connectivity reports the current network class to the sync
// coordinator. Monitors either poll (ProbeMonitor), watch a status file
// written by the platform network daemon (FileMonitor), or are set directly
// by the embedding application (Static).
package connectivity

import (
	"fmt"
	"strings"
	"sync"
)

// Class is the network class.
type Class string

const (
	Offline Class = "offline"
	Metered Class = "metered"
	Normal  Class = "normal"
)

// ParseClass converts a string to a Class. "metered-low-bandwidth" is
// accepted as an alias of metered.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline", "none":
		return Offline, nil
	case "metered", "metered-low-bandwidth", "cellular":
		return Metered, nil
	case "normal", "online", "wifi":
		return Normal, nil
	}
	return "", fmt.Errorf("unknown connectivity class %q", s)
}

func (c Class) String() string { return string(c) }

// Monitor reports the current class and pushes changes.
type Monitor interface {
	Current() Class

	// Subscribe returns a channel that receives the class after every
	// change, and a function that cancels the subscription. Slow readers
	// only ever see the latest class.
	Subscribe() (<-chan Class, func())
}

// hub holds the current class and fans changes out to subscribers.
type hub struct {
	mu      sync.Mutex
	current Class
	subs    map[int]chan Class
	nextID  int
}

func newHub(initial Class) *hub {
	return &hub{current: initial, subs: make(map[int]chan Class)}
}

func (h *hub) Current() Class {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *hub) Subscribe() (<-chan Class, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Class, 1)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// set updates the class and reports whether it changed.
func (h *hub) set(c Class) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c == h.current {
		return false
	}
	h.current = c
	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
	return true
}

// Static is a Monitor whose class is set by the caller.
type Static struct {
	*hub
}

var _ Monitor = (*Static)(nil)

// NewStatic returns a monitor reporting c until Set is called.
func NewStatic(c Class) *Static {
	return &Static{hub: newHub(c)}
}

// Set changes the class, notifying subscribers when it differs.
func (s *Static) Set(c Class) {
	s.set(c)
}
