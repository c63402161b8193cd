package flush

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/stake-plus/activity-leaderboard/src/components/presence"
	"github.com/stake-plus/activity-leaderboard/src/data"
)

const (
	// DefaultBatchSize triggers an early flush when the buffer fills.
	DefaultBatchSize = 64
	// DefaultInterval is the heartbeat that flushes the buffer and
	// snapshot-flushes open sessions.
	DefaultInterval = 10 * time.Minute
)

// Incrementer applies a voice-minutes delta to the accumulator store.
type Incrementer interface {
	IncrementVoice(ctx context.Context, guildID, userID string, minutes float64) error
}

// Sessions is the subset of the presence tracker the queue drives on its
// heartbeat and drain.
type Sessions interface {
	Sweep()
	SnapshotFlush()
	CloseAll()
}

type Config struct {
	Store     Incrementer
	Sessions  Sessions // may be bound later via BindSessions
	Retry     data.RetryPolicy
	BatchSize int
	Interval  time.Duration
}

// Queue buffers session deltas and flushes them to the store in batches.
// Store I/O happens only on the worker goroutine, never under the
// tracker's lock.
type Queue struct {
	mu      sync.Mutex
	pending []presence.Delta

	store     Incrementer
	sessions  Sessions
	retry     data.RetryPolicy
	batchSize int
	interval  time.Duration
	notify    chan struct{}
}

func NewQueue(cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = data.DefaultRetry()
	}
	return &Queue{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		retry:     cfg.Retry,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		notify:    make(chan struct{}, 1),
	}
}

// BindSessions attaches the tracker after construction. The tracker and
// queue reference each other, so one side has to be wired late.
func (q *Queue) BindSessions(s Sessions) {
	q.sessions = s
}

// Push enqueues a delta. Safe to call from the tracker's critical section.
func (q *Queue) Push(d presence.Delta) {
	if d.Minutes <= 0 {
		log.Printf("flush: dropping non-positive delta %.2fm for %s/%s", d.Minutes, d.GuildID, d.UserID)
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, d)
	full := len(q.pending) >= q.batchSize
	q.mu.Unlock()

	if full {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Run services batch-flush signals and the heartbeat until ctx is
// cancelled, then drains synchronously before returning.
func (q *Queue) Run(ctx context.Context) {
	log.Println("flush: queue worker started")
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.Drain()
			log.Println("flush: queue worker stopped")
			return
		case <-q.notify:
			q.Flush(ctx)
		case <-ticker.C:
			if q.sessions != nil {
				q.sessions.Sweep()
				q.sessions.SnapshotFlush()
			}
			q.Flush(ctx)
		}
	}
}

// Flush applies every buffered delta. Each item gets the bounded retry
// policy; on final failure it is dropped with a logged error so one bad
// item never blocks the rest of the batch.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, d := range batch {
		d := d
		err := q.retry.Do(ctx, func() error {
			return q.store.IncrementVoice(ctx, d.GuildID, d.UserID, d.Minutes)
		})
		if err != nil {
			log.Printf("flush: dropping delta %.2fm for %s/%s: %v", d.Minutes, d.GuildID, d.UserID, err)
		}
	}
}

// Drain closes all open sessions and flushes everything synchronously.
// Skipping this on shutdown loses voice time.
func (q *Queue) Drain() {
	if q.sessions != nil {
		q.sessions.CloseAll()
	}
	q.Flush(context.Background())
}

// Len reports the buffered delta count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
