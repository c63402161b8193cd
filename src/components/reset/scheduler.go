package reset

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stake-plus/activity-leaderboard/src/components/ranking"
	"github.com/stake-plus/activity-leaderboard/src/types"
)

const (
	// DefaultTick is short enough that a tick never straddles more than
	// one missed boundary check.
	DefaultTick = 5 * time.Minute
	// DefaultRetention bounds how long archive records are kept.
	DefaultRetention = 365 * 24 * time.Hour

	lockTTL = 60 * time.Second
)

// CounterStore is the accumulator-store surface the scheduler needs.
type CounterStore interface {
	EnabledGuilds(ctx context.Context) ([]types.GuildConfig, error)
	NonzeroRows(ctx context.Context, guildID, column string) ([]types.MemberStats, error)
	ZeroBucket(ctx context.Context, guildID, column string) error
}

// StateStore persists reset bookkeeping and star history.
type StateStore interface {
	LastReset(ctx context.Context, guildID string, kind types.Kind, period types.Period) (time.Time, bool, error)
	MarkReset(ctx context.Context, guildID string, kind types.Kind, period types.Period, at time.Time) error
	AppendArchive(ctx context.Context, guildID string, kind types.Kind, period types.Period, resetAt time.Time, rows []types.MemberStats) error
	PurgeArchives(ctx context.Context, before time.Time) (int64, error)
	StarConfig(ctx context.Context, guildID string) (*types.StarConfig, error)
	LastStarAward(ctx context.Context, guildID string) (time.Time, bool, error)
	SaveStarWinner(ctx context.Context, w *types.StarWinner) error
}

// Selector picks the most active member of the week.
type Selector interface {
	SelectStar(ctx context.Context, guildID string, weightChat, weightVoice float64) (*ranking.ScoreEntry, error)
}

// Locker is a lock-with-expiry guarding maintenance operations against a
// second scheduler instance. May be nil.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string)
}

// Publisher delivers star selections to the out-of-scope notification
// layer. May be nil.
type Publisher interface {
	PublishStar(ctx context.Context, guildID string, winner *ranking.ScoreEntry) error
}

type Config struct {
	Counters  CounterStore
	State     StateStore
	Selector  Selector
	Lock      Locker
	Publisher Publisher
	Tick      time.Duration
	Retention time.Duration
	Now       func() time.Time
}

// Scheduler evaluates period boundaries for every enabled guild and rolls
// buckets over exactly once per boundary, archiving before zeroing. The
// persisted ResetState is the idempotence authority: a restart between
// ticks cannot double-reset and a missed tick is caught up on the next.
type Scheduler struct {
	counters  CounterStore
	state     StateStore
	selector  Selector
	lock      Locker
	publisher Publisher
	tick      time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		counters:  cfg.Counters,
		state:     cfg.State,
		selector:  cfg.Selector,
		lock:      cfg.Lock,
		publisher: cfg.Publisher,
		tick:      cfg.Tick,
		retention: cfg.Retention,
		now:       cfg.Now,
	}
}

// Run ticks until ctx is cancelled. The first tick happens immediately so
// a restart catches up on anything missed while down.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("reset: scheduler started")
	s.TickOnce(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("reset: scheduler stopped")
			return
		case <-ticker.C:
			s.TickOnce(ctx)
		}
	}
}

// TickOnce evaluates every enabled guild. Failures are isolated per
// guild and per bucket: one bad item never blocks the rest of the tick.
func (s *Scheduler) TickOnce(ctx context.Context) {
	guilds, err := s.counters.EnabledGuilds(ctx)
	if err != nil {
		log.Printf("reset: list guilds: %v", err)
		return
	}

	for _, gc := range guilds {
		s.evalGuild(ctx, gc)
	}

	if _, err := s.state.PurgeArchives(ctx, s.now().Add(-s.retention)); err != nil {
		log.Printf("reset: purge archives: %v", err)
	}
}

func (s *Scheduler) evalGuild(ctx context.Context, gc types.GuildConfig) {
	loc := LoadLocation(gc.Timezone)

	var kinds []types.Kind
	if gc.ChatEnabled {
		kinds = append(kinds, types.KindChat)
	}
	if gc.VoiceEnabled {
		kinds = append(kinds, types.KindVoice)
	}

	for _, kind := range kinds {
		for _, period := range types.ResetPeriods {
			if err := s.evalBucket(ctx, gc.GuildID, kind, period, loc); err != nil {
				log.Printf("reset: %s/%s/%s: %v", gc.GuildID, kind, period, err)
			}
		}
	}

	if err := s.evalStar(ctx, gc.GuildID, loc); err != nil {
		log.Printf("reset: star selection %s: %v", gc.GuildID, err)
	}
}

func (s *Scheduler) evalBucket(ctx context.Context, guildID string, kind types.Kind, period types.Period, loc *time.Location) error {
	now := s.now()
	last, ok, err := s.state.LastReset(ctx, guildID, kind, period)
	if err != nil {
		return err
	}
	if !ok {
		// First sighting: anchor the cycle at now so the first boundary
		// fires naturally instead of zeroing fresh counters.
		return s.state.MarkReset(ctx, guildID, kind, period, now)
	}

	due := false
	switch period {
	case types.PeriodDaily:
		due = dailyDue(now, last, loc)
	case types.PeriodWeekly:
		due = weeklyDue(now, last, loc)
	case types.PeriodMonthly:
		due = monthlyDue(now, last, loc)
	}
	if !due {
		return nil
	}

	if s.lock != nil {
		key := fmt.Sprintf("reset:%s:%s:%s", guildID, kind, period)
		ok, err := s.lock.Acquire(ctx, key, lockTTL)
		if err != nil {
			log.Printf("reset: lock %s: %v", key, err)
		} else if !ok {
			// Another instance is handling it.
			return nil
		} else {
			defer s.lock.Release(ctx, key)
		}
	}

	return s.fire(ctx, guildID, kind, period, now)
}

// fire performs one rollover: snapshot nonzero rows, zero the bucket, then
// persist the new reset state. Ordered so that a crash between steps
// re-fires (possibly re-archiving) rather than losing a zeroing.
func (s *Scheduler) fire(ctx context.Context, guildID string, kind types.Kind, period types.Period, now time.Time) error {
	column := types.BucketColumn(kind, period)
	if column == "" {
		return fmt.Errorf("unknown bucket %s/%s", kind, period)
	}

	rows, err := s.counters.NonzeroRows(ctx, guildID, column)
	if err != nil {
		return err
	}
	if err := s.state.AppendArchive(ctx, guildID, kind, period, now, rows); err != nil {
		return err
	}
	if err := s.counters.ZeroBucket(ctx, guildID, column); err != nil {
		return err
	}
	if err := s.state.MarkReset(ctx, guildID, kind, period, now); err != nil {
		return err
	}

	log.Printf("reset: %s %s %s rolled over (%d rows archived)", guildID, kind, period, len(rows))
	return nil
}

func (s *Scheduler) evalStar(ctx context.Context, guildID string, loc *time.Location) error {
	cfg, err := s.state.StarConfig(ctx, guildID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}

	now := s.now()
	last, ok, err := s.state.LastStarAward(ctx, guildID)
	if err != nil {
		return err
	}
	if ok && !starDue(now, last, loc) {
		return nil
	}

	if s.lock != nil {
		key := "star:" + guildID
		ok, err := s.lock.Acquire(ctx, key, lockTTL)
		if err != nil {
			log.Printf("reset: lock %s: %v", key, err)
		} else if !ok {
			return nil
		} else {
			defer s.lock.Release(ctx, key)
		}
	}

	winner, err := s.selector.SelectStar(ctx, guildID, cfg.WeightChat, cfg.WeightVoice)
	if err != nil {
		return err
	}
	if winner == nil {
		log.Printf("reset: no eligible star candidate for %s", guildID)
		return nil
	}

	if err := s.state.SaveStarWinner(ctx, &types.StarWinner{
		GuildID:     guildID,
		UserID:      winner.UserID,
		Score:       winner.Score,
		ChatWeekly:  winner.Messages,
		VoiceWeekly: winner.VoiceMinutes,
		AwardedAt:   now,
	}); err != nil {
		return err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishStar(ctx, guildID, winner); err != nil {
			log.Printf("reset: publish star %s: %v", guildID, err)
		}
	}

	log.Printf("reset: star of the week for %s: %s (score %.1f)", guildID, winner.UserID, winner.Score)
	return nil
}
