package flush

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/activity-leaderboard/src/components/presence"
	"github.com/stake-plus/activity-leaderboard/src/data"
)

type memStore struct {
	mu      sync.Mutex
	totals  map[string]float64
	calls   int
	failN   int // fail the first failN calls
	lastErr error
}

func newMemStore() *memStore {
	return &memStore{totals: make(map[string]float64), lastErr: errors.New("store down")}
}

func (m *memStore) IncrementVoice(ctx context.Context, guildID, userID string, minutes float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failN {
		return m.lastErr
	}
	m.totals[guildID+"/"+userID] += minutes
	return nil
}

func (m *memStore) total(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[key]
}

func fastRetry() data.RetryPolicy {
	return data.RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond}
}

func TestQueueFlushAppliesDeltas(t *testing.T) {
	store := newMemStore()
	q := NewQueue(Config{Store: store, Retry: fastRetry()})

	q.Push(presence.Delta{GuildID: "g", UserID: "u1", Minutes: 10})
	q.Push(presence.Delta{GuildID: "g", UserID: "u1", Minutes: 5})
	q.Push(presence.Delta{GuildID: "g", UserID: "u2", Minutes: 2.5})
	require.Equal(t, 3, q.Len())

	q.Flush(context.Background())

	assert.Equal(t, 0, q.Len())
	assert.InDelta(t, 15.0, store.total("g/u1"), 1e-9)
	assert.InDelta(t, 2.5, store.total("g/u2"), 1e-9)
}

func TestQueueDropsNonPositive(t *testing.T) {
	store := newMemStore()
	q := NewQueue(Config{Store: store, Retry: fastRetry()})

	q.Push(presence.Delta{GuildID: "g", UserID: "u", Minutes: 0})
	q.Push(presence.Delta{GuildID: "g", UserID: "u", Minutes: -3})

	assert.Equal(t, 0, q.Len())
}

func TestQueueBatchSignal(t *testing.T) {
	store := newMemStore()
	q := NewQueue(Config{Store: store, Retry: fastRetry(), BatchSize: 2, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	q.Push(presence.Delta{GuildID: "g", UserID: "u", Minutes: 1})
	q.Push(presence.Delta{GuildID: "g", UserID: "u", Minutes: 1})

	assert.Eventually(t, func() bool {
		return store.total("g/u") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	store := newMemStore()
	store.failN = 2 // first two attempts fail, third succeeds
	q := NewQueue(Config{Store: store, Retry: fastRetry()})

	q.Push(presence.Delta{GuildID: "g", UserID: "u", Minutes: 4})
	q.Flush(context.Background())

	assert.InDelta(t, 4.0, store.total("g/u"), 1e-9)
	assert.Equal(t, 3, store.calls)
}

func TestQueueDropsAfterRetriesExhausted(t *testing.T) {
	store := newMemStore()
	store.failN = 10
	q := NewQueue(Config{Store: store, Retry: fastRetry()})

	q.Push(presence.Delta{GuildID: "g", UserID: "bad", Minutes: 4})
	q.Push(presence.Delta{GuildID: "g", UserID: "ok", Minutes: 6})
	q.Flush(context.Background())

	// Bad item dropped after 3 attempts; the rest of the batch still lands.
	assert.Equal(t, 0, q.Len())
	assert.InDelta(t, 0.0, store.total("g/bad"), 1e-9)
	assert.InDelta(t, 6.0, store.total("g/ok"), 1e-9)
}

type fakeSessions struct {
	mu        sync.Mutex
	sweeps    int
	snapshots int
	closes    int
	queue     *Queue
}

func (f *fakeSessions) Sweep() {
	f.mu.Lock()
	f.sweeps++
	f.mu.Unlock()
}

func (f *fakeSessions) SnapshotFlush() {
	f.mu.Lock()
	f.snapshots++
	f.mu.Unlock()
	f.queue.Push(presence.Delta{GuildID: "g", UserID: "open", Minutes: 1})
}

func (f *fakeSessions) CloseAll() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.queue.Push(presence.Delta{GuildID: "g", UserID: "open", Minutes: 2})
}

func TestQueueHeartbeatSnapshotsSessions(t *testing.T) {
	store := newMemStore()
	q := NewQueue(Config{Store: store, Retry: fastRetry(), Interval: 20 * time.Millisecond})
	sessions := &fakeSessions{queue: q}
	q.BindSessions(sessions)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return sessions.sweeps >= 1 && sessions.snapshots >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestQueueDrainClosesSessionsAndFlushes(t *testing.T) {
	store := newMemStore()
	q := NewQueue(Config{Store: store, Retry: fastRetry(), Interval: time.Hour})
	sessions := &fakeSessions{queue: q}
	q.BindSessions(sessions)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Equal(t, 1, sessions.closes)
	assert.InDelta(t, 2.0, store.total("g/open"), 1e-9)
	assert.Equal(t, 0, q.Len())
}
