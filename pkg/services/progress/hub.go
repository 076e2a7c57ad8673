package progress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/de-tools/cloud-sentry/pkg/models/domain"
)

// Conn is the transport contract: anything that can accept bytes. The hub
// never learns what carries them; the transport calls Disconnect when the
// peer goes away.
type Conn interface {
	Send(payload []byte) error
}

type subscription struct {
	runIDs   map[string]struct{}
	lastSeen time.Time
}

// Hub fans progress events out to observers keyed by run id. All methods
// are safe for concurrent use from any number of runs; one run's publishing
// never blocks another's subscriptions.
type Hub struct {
	mu sync.RWMutex
	// runs: run id -> subscribed connections.
	runs map[string]map[Conn]struct{}
	// conns is the reverse index used for disconnects.
	conns map[Conn]*subscription

	now func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		runs:  make(map[string]map[Conn]struct{}),
		conns: make(map[Conn]*subscription),
		now:   time.Now,
	}
}

// Subscribe registers conn for runID. Subscribing an already-subscribed
// connection is idempotent; the caller still gets acknowledged.
func (h *Hub) Subscribe(conn Conn, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.runs[runID]
	if !ok {
		set = make(map[Conn]struct{})
		h.runs[runID] = set
	}
	set[conn] = struct{}{}

	sub, ok := h.conns[conn]
	if !ok {
		sub = &subscription{runIDs: make(map[string]struct{})}
		h.conns[conn] = sub
	}
	sub.runIDs[runID] = struct{}{}
	sub.lastSeen = h.now()
}

// Unsubscribe removes conn from runID, pruning empty sets. Unknown pairs
// are a no-op.
func (h *Hub) Unsubscribe(conn Conn, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn, runID)
}

// Disconnect removes conn from every run it observes. Called by the
// transport when the peer drops; subscriber churn is normal lifecycle,
// never an error.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.conns[conn]
	if !ok {
		return
	}
	for runID := range sub.runIDs {
		h.removeLocked(conn, runID)
	}
}

// Publish sends one event to every subscriber of its run id and reports how
// many deliveries succeeded. Zero subscribers is a cheap no-op. Connections
// that fail to accept the payload are dropped from the hub; there is no
// replay buffer.
func (h *Hub) Publish(runID string, event domain.ProgressEvent) int {
	h.mu.RLock()
	set := h.runs[runID]
	if len(set) == 0 {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]Conn, 0, len(set))
	for conn := range set {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return 0
	}

	delivered := 0
	var dead []Conn
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			dead = append(dead, conn)
			continue
		}
		delivered++
	}

	for _, conn := range dead {
		h.Disconnect(conn)
	}
	return delivered
}

// Remap moves every subscriber of fromRunID onto toRunID, deduplicating
// connections already observing the target. Afterwards publishing to
// fromRunID is inert. Used when individual runs are grouped under a batch
// id mid-flight.
func (h *Hub) Remap(fromRunID, toRunID string) {
	if fromRunID == toRunID {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	from, ok := h.runs[fromRunID]
	if !ok {
		return
	}

	to, ok := h.runs[toRunID]
	if !ok {
		to = make(map[Conn]struct{})
		h.runs[toRunID] = to
	}

	for conn := range from {
		to[conn] = struct{}{}
		if sub, ok := h.conns[conn]; ok {
			delete(sub.runIDs, fromRunID)
			sub.runIDs[toRunID] = struct{}{}
		}
	}
	delete(h.runs, fromRunID)
}

// Subscribers reports the current subscriber count for a run id.
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID])
}

func (h *Hub) removeLocked(conn Conn, runID string) {
	if set, ok := h.runs[runID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.runs, runID)
		}
	}
	if sub, ok := h.conns[conn]; ok {
		delete(sub.runIDs, runID)
		if len(sub.runIDs) == 0 {
			delete(h.conns, conn)
		}
	}
}
