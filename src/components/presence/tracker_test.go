package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordSink struct {
	mu     sync.Mutex
	deltas []Delta
}

func (s *recordSink) Push(d Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, d)
}

func (s *recordSink) all() []Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delta, len(s.deltas))
	copy(out, s.deltas)
	return out
}

func (s *recordSink) totalMinutes() float64 {
	var sum float64
	for _, d := range s.all() {
		sum += d.Minutes
	}
	return sum
}

func join(guild, user, channel string) Event {
	return Event{GuildID: guild, UserID: user, AfterChannelID: channel}
}

func leave(guild, user, channel string) Event {
	return Event{GuildID: guild, UserID: user, BeforeChannelID: channel}
}

func TestTrackerJoinLeave(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.HandleEvent(join("g1", "u1", "voice-1"))
	assert.Equal(t, 1, tr.Len())

	clock.Advance(30 * time.Minute)
	tr.HandleEvent(leave("g1", "u1", "voice-1"))

	deltas := sink.all()
	require.Len(t, deltas, 1)
	assert.Equal(t, "g1", deltas[0].GuildID)
	assert.Equal(t, "u1", deltas[0].UserID)
	assert.InDelta(t, 30.0, deltas[0].Minutes, 1e-9)
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		ev        Event
		wantOpen  int
		wantEmits int
	}{
		{
			name:     "join opens session",
			ev:       join("g", "u", "c1"),
			wantOpen: 1,
		},
		{
			name: "join into afk channel ignored",
			ev:   Event{GuildID: "g", UserID: "u", AfterChannelID: "afk", AfterAFK: true},
		},
		{
			name: "bot ignored",
			ev:   Event{GuildID: "g", UserID: "u", AfterChannelID: "c1", Bot: true},
		},
		{
			name: "leave without session is a no-op",
			ev:   leave("g", "u", "c1"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordSink{}
			tr := NewTracker(sink)
			tr.HandleEvent(tt.ev)
			assert.Equal(t, tt.wantOpen, tr.Len())
			assert.Len(t, sink.all(), tt.wantEmits)
		})
	}
}

func TestTrackerMoveKeepsSession(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.HandleEvent(join("g", "u", "c1"))
	clock.Advance(10 * time.Minute)

	// Active->Active move: no delta, session start unchanged.
	tr.HandleEvent(Event{GuildID: "g", UserID: "u", BeforeChannelID: "c1", AfterChannelID: "c2"})
	assert.Empty(t, sink.all())
	assert.Equal(t, 1, tr.Len())

	clock.Advance(5 * time.Minute)
	tr.HandleEvent(leave("g", "u", "c2"))

	deltas := sink.all()
	require.Len(t, deltas, 1)
	assert.InDelta(t, 15.0, deltas[0].Minutes, 1e-9)
}

func TestTrackerMoveToAFKClosesSession(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.HandleEvent(join("g", "u", "c1"))
	clock.Advance(20 * time.Minute)
	tr.HandleEvent(Event{GuildID: "g", UserID: "u", BeforeChannelID: "c1", AfterChannelID: "afk", AfterAFK: true})

	deltas := sink.all()
	require.Len(t, deltas, 1)
	assert.InDelta(t, 20.0, deltas[0].Minutes, 1e-9)
	assert.Equal(t, 0, tr.Len())

	// Coming back from AFK opens a fresh session.
	clock.Advance(time.Minute)
	tr.HandleEvent(Event{GuildID: "g", UserID: "u", BeforeChannelID: "afk", BeforeAFK: true, AfterChannelID: "c1"})
	assert.Equal(t, 1, tr.Len())
}

func TestTrackerDuplicateLeave(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.HandleEvent(join("g", "u", "c1"))
	clock.Advance(5 * time.Minute)
	tr.HandleEvent(leave("g", "u", "c1"))
	tr.HandleEvent(leave("g", "u", "c1"))

	assert.Len(t, sink.all(), 1)
}

func TestSnapshotFlushNoDoubleCount(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.HandleEvent(join("g", "u", "c1"))
	clock.Advance(10 * time.Minute)
	tr.SnapshotFlush()
	clock.Advance(10 * time.Minute)
	tr.SnapshotFlush()
	clock.Advance(10 * time.Minute)
	tr.HandleEvent(leave("g", "u", "c1"))

	// Total across flush and close equals total active time exactly once.
	assert.InDelta(t, 30.0, sink.totalMinutes(), 1e-9)
	assert.Len(t, sink.all(), 3)
}

func TestSweepClampsOnlyOverCap(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now), WithMaxSession(time.Hour))

	tr.Open("g", "stale")
	clock.Advance(90 * time.Minute)
	tr.Open("g", "fresh")
	clock.Advance(10 * time.Minute)

	tr.Sweep()

	deltas := sink.all()
	require.Len(t, deltas, 1)
	assert.Equal(t, "stale", deltas[0].UserID)
	// 100 minutes elapsed, clamped to the one-hour cap.
	assert.InDelta(t, 60.0, deltas[0].Minutes, 1e-9)
	assert.Equal(t, 2, tr.Len())
}

func TestOpenKeepsExistingSession(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.Open("g", "u")
	clock.Advance(25 * time.Minute)
	// Re-delivered guild state seeds the same member again; the original
	// start must survive.
	tr.Open("g", "u")
	clock.Advance(5 * time.Minute)
	tr.HandleEvent(leave("g", "u", "c1"))

	deltas := sink.all()
	require.Len(t, deltas, 1)
	assert.InDelta(t, 30.0, deltas[0].Minutes, 1e-9)
}

func TestCloseAllDrains(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.Open("g", "u1")
	tr.Open("g", "u2")
	clock.Advance(7 * time.Minute)
	tr.CloseAll()

	assert.Equal(t, 0, tr.Len())
	assert.InDelta(t, 14.0, sink.totalMinutes(), 1e-9)
}

func TestZeroDurationNotEmitted(t *testing.T) {
	clock := newFakeClock()
	sink := &recordSink{}
	tr := NewTracker(sink, WithClock(clock.Now))

	tr.HandleEvent(join("g", "u", "c1"))
	tr.HandleEvent(leave("g", "u", "c1"))

	assert.Empty(t, sink.all())
}
