package realtime

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryConnectDisconnect(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(testRegistryConf("test", clock))
	tr := &fakeTransport{}

	id := r.Connect(tr, "alice", map[string]string{"job_id": "j1"})
	require.NotEmpty(t, id)

	info, ok := r.ConnectionInfo(id)
	require.True(t, ok)
	assert.Equal(t, "alice", info.UserID)
	assert.Equal(t, clock.Now(), info.EstablishedAt)
	assert.Equal(t, info.EstablishedAt, info.LastActivity)
	assert.Equal(t, "j1", info.Metadata["job_id"])

	assert.True(t, r.Disconnect(id))
	assert.True(t, tr.isClosed())
	assert.False(t, r.Disconnect(id), "second disconnect is a no-op")
	assert.Empty(t, r.UserConnections("alice"))
}

func TestRegistryUserIndexConsistency(t *testing.T) {
	r := NewRegistry(testRegistryConf("test", newFakeClock()))
	rng := rand.New(rand.NewSource(7))
	users := []string{"a", "b", "c"}
	var live []string

	for i := 0; i < 500; i++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			live = append(live, r.Connect(&fakeTransport{}, users[rng.Intn(len(users))], nil))
		} else {
			k := rng.Intn(len(live))
			r.Disconnect(live[k])
			if rng.Intn(2) == 0 {
				r.Disconnect(live[k])
			}
			live = append(live[:k], live[k+1:]...)
		}

		r.mu.RLock()
		indexed := 0
		for user, ids := range r.byUser {
			assert.NotEmpty(t, ids)
			for id := range ids {
				c, ok := r.conns[id]
				require.True(t, ok, "index references missing connection")
				assert.Equal(t, user, c.UserID)
				indexed++
			}
		}
		assert.Equal(t, len(r.conns), indexed)
		r.mu.RUnlock()
	}
}

func TestRegistryFanOutIsolation(t *testing.T) {
	r := NewRegistry(testRegistryConf("test", newFakeClock()))
	good1, bad, good2 := &fakeTransport{}, &fakeTransport{fail: true}, &fakeTransport{}
	r.Connect(good1, "a", nil)
	badID := r.Connect(bad, "b", nil)
	r.Connect(good2, "c", nil)

	n := r.Broadcast(PongEvent{Type: EventPong}, "")
	assert.Equal(t, 2, n)
	assert.Len(t, good1.messages(t), 1)
	assert.Len(t, good2.messages(t), 1)
	assert.False(t, r.Has(badID))
	assert.True(t, bad.isClosed())

	s := r.Stats()
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(2), s.MessagesSent)
	assert.Equal(t, 2, s.ActiveConnections)
}

func TestRegistrySendFailureDisconnects(t *testing.T) {
	r := NewRegistry(testRegistryConf("test", newFakeClock()))
	tr := &fakeTransport{fail: true}
	id := r.Connect(tr, "a", nil)

	assert.False(t, r.Send(id, PongEvent{Type: EventPong}))
	assert.False(t, r.Has(id))
	assert.False(t, r.Send("missing", PongEvent{Type: EventPong}))
}

func TestRegistrySendToUserAndExclude(t *testing.T) {
	r := NewRegistry(testRegistryConf("test", newFakeClock()))
	a1, a2, b := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	r.Connect(a1, "alice", nil)
	r.Connect(a2, "alice", nil)
	r.Connect(b, "bob", nil)

	assert.Equal(t, 2, r.SendToUser("alice", PongEvent{Type: EventPong}))
	assert.Equal(t, 1, r.Broadcast(PongEvent{Type: EventPong}, "alice"))
	assert.Len(t, b.messages(t), 1)

	s := r.Stats()
	assert.Equal(t, 2, s.ActiveUsers)
	assert.InDelta(t, 1.5, s.AvgConnectionsPerUser, 1e-9)
	assert.Equal(t, int64(3), s.TotalConnections)
}

func TestRegistryIdleEviction(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(testRegistryConf("test", clock))
	stale := r.Connect(&fakeTransport{}, "a", nil)
	clock.Advance(5 * time.Minute)
	fresh := r.Connect(&fakeTransport{}, "b", nil)
	clock.Advance(6 * time.Minute)
	r.Touch(fresh)

	n := r.EvictIdle(clock.Now().Add(-10 * time.Minute))
	assert.Equal(t, 1, n)
	assert.False(t, r.Has(stale))
	assert.True(t, r.Has(fresh))
}

func TestRegistryMessageQueue(t *testing.T) {
	r := NewRegistry(testRegistryConf("test", newFakeClock()))
	tr := &fakeTransport{}
	id := r.Connect(tr, "a", nil)

	for i := 0; i < 150; i++ {
		require.NoError(t, r.QueueMessage(id, map[string]int{"seq": i}))
	}
	info, _ := r.ConnectionInfo(id)
	assert.Equal(t, 100, info.QueuedMessages)

	assert.Equal(t, 100, r.DeliverQueued(id))
	msgs := tr.messages(t)
	require.Len(t, msgs, 100)
	assert.Equal(t, 50.0, msgs[0]["seq"])
	assert.Equal(t, 149.0, msgs[99]["seq"])
	assert.Equal(t, 0, r.DeliverQueued(id))

	assert.ErrorIs(t, r.QueueMessage("missing", "x"), ErrUnknownConnection)
}

func TestRegistryReleaseHookRunsOnce(t *testing.T) {
	r := NewRegistry(testRegistryConf("test", newFakeClock()))
	calls := 0
	r.onRelease(func(*Connection) { calls++ })
	id := r.Connect(&fakeTransport{}, "a", nil)
	r.Disconnect(id)
	r.Disconnect(id)
	assert.Equal(t, 1, calls)
}
