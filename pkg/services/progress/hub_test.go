package progress

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (c *recordingConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection reset")
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingConn) events(t *testing.T) []domain.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ProgressEvent, 0, len(c.payloads))
	for _, p := range c.payloads {
		var ev domain.ProgressEvent
		require.NoError(t, json.Unmarshal(p, &ev))
		out = append(out, ev)
	}
	return out
}

func progressEvent(runID string, percent int) domain.ProgressEvent {
	return domain.ProgressEvent{Kind: domain.EventKindProgress, RunID: runID, Percent: percent}
}

func TestHub_PublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.Publish("r1", progressEvent("r1", 50)))
}

func TestHub_PublishReachesSubscribersInOrder(t *testing.T) {
	hub := NewHub()
	conn := &recordingConn{}
	hub.Subscribe(conn, "r1")

	for _, pct := range []int{0, 33, 66, 100} {
		assert.Equal(t, 1, hub.Publish("r1", progressEvent("r1", pct)))
	}

	events := conn.events(t)
	require.Len(t, events, 4)
	for i, pct := range []int{0, 33, 66, 100} {
		assert.Equal(t, pct, events[i].Percent)
	}
}

func TestHub_DuplicateSubscribeIsIdempotent(t *testing.T) {
	hub := NewHub()
	conn := &recordingConn{}

	hub.Subscribe(conn, "r1")
	hub.Subscribe(conn, "r1")

	assert.Equal(t, 1, hub.Subscribers("r1"))
	assert.Equal(t, 1, hub.Publish("r1", progressEvent("r1", 10)))
	assert.Len(t, conn.events(t), 1)
}

func TestHub_UnsubscribePrunesEmptyRuns(t *testing.T) {
	hub := NewHub()
	conn := &recordingConn{}
	hub.Subscribe(conn, "r1")

	hub.Unsubscribe(conn, "r1")
	assert.Equal(t, 0, hub.Subscribers("r1"))
	assert.Equal(t, 0, hub.Publish("r1", progressEvent("r1", 10)))

	// Unknown pairs are silently ignored.
	hub.Unsubscribe(conn, "never-subscribed")
}

func TestHub_DisconnectRemovesFromAllRuns(t *testing.T) {
	hub := NewHub()
	conn := &recordingConn{}
	other := &recordingConn{}

	hub.Subscribe(conn, "r1")
	hub.Subscribe(conn, "r2")
	hub.Subscribe(other, "r2")

	hub.Disconnect(conn)

	assert.Equal(t, 0, hub.Subscribers("r1"))
	assert.Equal(t, 1, hub.Subscribers("r2"))
	assert.Equal(t, 1, hub.Publish("r2", progressEvent("r2", 10)))
	assert.Empty(t, conn.events(t))
}

func TestHub_FailedSendDropsConnection(t *testing.T) {
	hub := NewHub()
	healthy := &recordingConn{}
	broken := &recordingConn{fail: true}

	hub.Subscribe(healthy, "r1")
	hub.Subscribe(broken, "r1")

	assert.Equal(t, 1, hub.Publish("r1", progressEvent("r1", 10)))
	assert.Equal(t, 1, hub.Subscribers("r1"))
}

func TestHub_RemapMovesAndDeduplicates(t *testing.T) {
	hub := NewHub()
	onA := &recordingConn{}
	onBoth := &recordingConn{}
	onB := &recordingConn{}

	hub.Subscribe(onA, "r1")
	hub.Subscribe(onBoth, "r1")
	hub.Subscribe(onBoth, "b1")
	hub.Subscribe(onB, "b1")

	hub.Remap("r1", "b1")

	// Publishing to the old run id is inert.
	assert.Equal(t, 0, hub.Publish("r1", progressEvent("r1", 10)))
	assert.Equal(t, 0, hub.Subscribers("r1"))

	assert.Equal(t, 3, hub.Subscribers("b1"))
	assert.Equal(t, 3, hub.Publish("b1", progressEvent("b1", 20)))
	assert.Len(t, onBoth.events(t), 1, "deduplicated connection gets the event once")

	// Disconnecting a moved connection cleans up under the batch id.
	hub.Disconnect(onA)
	assert.Equal(t, 2, hub.Subscribers("b1"))
}

func TestHub_RemapUnknownSourceIsNoop(t *testing.T) {
	hub := NewHub()
	conn := &recordingConn{}
	hub.Subscribe(conn, "b1")

	hub.Remap("missing", "b1")
	hub.Remap("b1", "b1")
	assert.Equal(t, 1, hub.Subscribers("b1"))
}

func TestHub_ConcurrentUse(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := &recordingConn{}
			runID := string(rune('a' + n%4))
			for j := 0; j < 100; j++ {
				hub.Subscribe(conn, runID)
				hub.Publish(runID, progressEvent(runID, j))
				hub.Unsubscribe(conn, runID)
			}
			hub.Disconnect(conn)
		}(i)
	}
	wg.Wait()

	for _, runID := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 0, hub.Subscribers(runID))
	}
}
