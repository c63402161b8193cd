package presence

import (
	"log"
	"sync"
	"time"
)

// DefaultMaxSession caps a single continuous session. Anything longer is
// assumed to be a missed leave event.
const DefaultMaxSession = 24 * time.Hour

// SessionKey identifies one open voice session.
type SessionKey struct {
	GuildID string
	UserID  string
}

// Delta is the elapsed active time emitted when a session closes or is
// heartbeat-flushed.
type Delta struct {
	GuildID string
	UserID  string
	Minutes float64
}

// Sink receives deltas. Push must not block: the tracker calls it while
// holding its lock.
type Sink interface {
	Push(Delta)
}

// Event is one raw voice-state transition. Empty channel IDs mean "not in
// any channel".
type Event struct {
	GuildID         string
	UserID          string
	BeforeChannelID string
	AfterChannelID  string
	BeforeAFK       bool
	AfterAFK        bool
	Bot             bool
}

// Tracker converts voice-state transitions into duration deltas. The
// session table is the only shared mutable state and is guarded by one
// mutex held across a single transition, never across I/O.
type Tracker struct {
	mu         sync.Mutex
	sessions   map[SessionKey]time.Time
	sink       Sink
	now        func() time.Time
	maxSession time.Duration
}

type Option func(*Tracker)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMaxSession overrides the session duration cap.
func WithMaxSession(d time.Duration) Option {
	return func(t *Tracker) { t.maxSession = d }
}

func NewTracker(sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		sessions:   make(map[SessionKey]time.Time),
		sink:       sink,
		now:        time.Now,
		maxSession: DefaultMaxSession,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// HandleEvent applies one transition. Events for the same member must be
// delivered in arrival order; events for different members are independent.
func (t *Tracker) HandleEvent(ev Event) {
	if ev.Bot {
		return
	}

	activeBefore := ev.BeforeChannelID != "" && !ev.BeforeAFK
	activeAfter := ev.AfterChannelID != "" && !ev.AfterAFK
	key := SessionKey{GuildID: ev.GuildID, UserID: ev.UserID}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !activeBefore && activeAfter:
		t.sessions[key] = t.now()
	case activeBefore && !activeAfter:
		start, ok := t.sessions[key]
		if !ok {
			// Duplicate leave or missed join; nothing to emit.
			return
		}
		delete(t.sessions, key)
		t.emit(key, start)
	default:
		// Active->Active move or AFK->AFK shuffle: session untouched.
	}
}

// Open records a session for a member already present at startup. An
// existing session is left untouched so re-delivered guild state cannot
// restart it and shave off accrued time.
func (t *Tracker) Open(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := SessionKey{GuildID: guildID, UserID: userID}
	if _, ok := t.sessions[key]; ok {
		return
	}
	t.sessions[key] = t.now()
}

// SnapshotFlush emits the elapsed time of every open session and restarts
// each at now, so a crash loses at most one heartbeat interval.
func (t *Tracker) SnapshotFlush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for key, start := range t.sessions {
		t.emit(key, start)
		t.sessions[key] = now
	}
}

// Sweep force-closes the elapsed time of sessions past the cap and
// restarts them, bounding growth from missed leave events.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for key, start := range t.sessions {
		if now.Sub(start) > t.maxSession {
			t.emit(key, start)
			t.sessions[key] = now
		}
	}
}

// CloseAll drains every open session, emitting final deltas. Used on
// shutdown.
func (t *Tracker) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, start := range t.sessions {
		t.emit(key, start)
		delete(t.sessions, key)
	}
}

// Len reports the number of open sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// emit computes and pushes the delta for a session started at start.
// Caller holds the lock.
func (t *Tracker) emit(key SessionKey, start time.Time) {
	elapsed := t.now().Sub(start)
	if elapsed < 0 {
		log.Printf("presence: negative session duration for %s/%s, skipping", key.GuildID, key.UserID)
		return
	}
	if elapsed > t.maxSession {
		log.Printf("presence: session for %s/%s exceeded cap (%s), clamping", key.GuildID, key.UserID, elapsed)
		elapsed = t.maxSession
	}
	if elapsed == 0 {
		return
	}
	t.sink.Push(Delta{GuildID: key.GuildID, UserID: key.UserID, Minutes: elapsed.Minutes()})
}
