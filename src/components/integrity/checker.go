package integrity

import (
	"context"
	"log"
	"time"

	"github.com/stake-plus/activity-leaderboard/src/types"
)

// DefaultInterval between integrity passes.
const DefaultInterval = time.Hour

// epsilon tolerates float rounding in voice-minute comparisons.
const epsilon = 1e-6

// Source is the read surface the checker scans.
type Source interface {
	EnabledGuilds(ctx context.Context) ([]types.GuildConfig, error)
	AllRows(ctx context.Context, guildID string) ([]types.MemberStats, error)
}

// Violation is one broken bucket-ordering invariant.
type Violation struct {
	GuildID string
	UserID  string
	Field   string
	Detail  string
}

// Checker detects counters where daily > weekly, weekly > monthly or
// monthly > all-time. Bucket writes are not transactional across the four
// periods, so ordering violations can appear after partial failures; this
// pass surfaces them for operators and never mutates anything.
type Checker struct {
	source   Source
	interval time.Duration
}

func NewChecker(source Source, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checker{source: source, interval: interval}
}

// Run scans once immediately, then periodically until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log.Println("integrity: checker started")
	c.scan(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("integrity: checker stopped")
			return
		case <-ticker.C:
			c.scan(ctx)
		}
	}
}

func (c *Checker) scan(ctx context.Context) {
	guilds, err := c.source.EnabledGuilds(ctx)
	if err != nil {
		log.Printf("integrity: list guilds: %v", err)
		return
	}
	for _, gc := range guilds {
		violations, err := c.CheckGuild(ctx, gc.GuildID)
		if err != nil {
			log.Printf("integrity: %s: %v", gc.GuildID, err)
			continue
		}
		for _, v := range violations {
			log.Printf("integrity: anomaly in %s/%s: %s %s", v.GuildID, v.UserID, v.Field, v.Detail)
		}
	}
}

// CheckGuild returns every bucket-ordering violation for one guild.
func (c *Checker) CheckGuild(ctx context.Context, guildID string) ([]Violation, error) {
	rows, err := c.source.AllRows(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, row := range rows {
		violations = append(violations, checkRow(row)...)
	}
	return violations, nil
}

func checkRow(row types.MemberStats) []Violation {
	var out []Violation
	add := func(field, detail string) {
		out = append(out, Violation{GuildID: row.GuildID, UserID: row.UserID, Field: field, Detail: detail})
	}

	if row.ChatDaily > row.ChatWeekly {
		add("chat", "daily exceeds weekly")
	}
	if row.ChatWeekly > row.ChatMonthly {
		add("chat", "weekly exceeds monthly")
	}
	if row.ChatMonthly > row.ChatAllTime {
		add("chat", "monthly exceeds all-time")
	}
	if row.VoiceDaily > row.VoiceWeekly+epsilon {
		add("voice", "daily exceeds weekly")
	}
	if row.VoiceWeekly > row.VoiceMonthly+epsilon {
		add("voice", "weekly exceeds monthly")
	}
	if row.VoiceMonthly > row.VoiceAllTime+epsilon {
		add("voice", "monthly exceeds all-time")
	}
	return out
}
