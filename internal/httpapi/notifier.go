package httpapi

import (
	"sync"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
)

// Notifier fans module state changes out to event-stream subscribers.
// Each subscriber only ever holds the latest snapshot.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan bridge.Snapshot]struct{}
	last      bridge.Snapshot
}

// NewNotifier creates a new Notifier instance.
func NewNotifier() *Notifier {
	return &Notifier{
		listeners: make(map[chan bridge.Snapshot]struct{}),
	}
}

// Subscribe returns a channel that receives state snapshots. The current
// state is delivered immediately. The caller must call Unsubscribe when done.
func (n *Notifier) Subscribe() chan bridge.Snapshot {
	ch := make(chan bridge.Snapshot, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	ch <- n.last
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan bridge.Snapshot) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

// Publish sends snap to every listener, replacing any snapshot a slow
// listener has not consumed yet. It never blocks, so it can be passed to
// bridge.WithStateObserver.
func (n *Notifier) Publish(snap bridge.Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = snap

	for ch := range n.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
