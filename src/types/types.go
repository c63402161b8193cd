package types

import "time"

// Bucket kinds and periods. Column names are derived from these and must
// match the gorm column naming of MemberStats.
type Kind string

const (
	KindChat  Kind = "chat"
	KindVoice Kind = "voice"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "alltime"
)

// BucketColumn maps a (kind, period) pair to its MemberStats column.
// Returns "" for unknown combinations so callers can reject bad input
// before it reaches a query.
func BucketColumn(kind Kind, period Period) string {
	switch kind {
	case KindChat:
		switch period {
		case PeriodDaily:
			return "chat_daily"
		case PeriodWeekly:
			return "chat_weekly"
		case PeriodMonthly:
			return "chat_monthly"
		case PeriodAllTime:
			return "chat_alltime"
		}
	case KindVoice:
		switch period {
		case PeriodDaily:
			return "voice_daily"
		case PeriodWeekly:
			return "voice_weekly"
		case PeriodMonthly:
			return "voice_monthly"
		case PeriodAllTime:
			return "voice_alltime"
		}
	}
	return ""
}

// ResetPeriods are the bucket periods that roll over. All-time never resets.
var ResetPeriods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// Guild configuration
type GuildConfig struct {
	GuildID          string `gorm:"primaryKey;size:64"`
	ChatEnabled      bool   `gorm:"default:false"`
	VoiceEnabled     bool   `gorm:"default:false"`
	Timezone         string `gorm:"size:64;default:UTC"`
	ChatChannelID    string `gorm:"size:64"`
	VoiceChannelID   string `gorm:"size:64"`
	LeaderboardLimit int    `gorm:"default:10"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Per-member activity counters, one row per (guild, member), upserted
// lazily on first increment. Voice values are minutes.
type MemberStats struct {
	GuildID      string `gorm:"primaryKey;size:64"`
	UserID       string `gorm:"primaryKey;size:64"`
	ChatDaily    uint64 `gorm:"column:chat_daily;default:0"`
	ChatWeekly   uint64 `gorm:"column:chat_weekly;default:0"`
	ChatMonthly  uint64 `gorm:"column:chat_monthly;default:0"`
	ChatAllTime  uint64 `gorm:"column:chat_alltime;default:0"`
	VoiceDaily   float64 `gorm:"column:voice_daily;default:0"`
	VoiceWeekly  float64 `gorm:"column:voice_weekly;default:0"`
	VoiceMonthly float64 `gorm:"column:voice_monthly;default:0"`
	VoiceAllTime float64 `gorm:"column:voice_alltime;default:0"`
	LastUpdate   time.Time
}

// Chat returns the chat counter for a period.
func (m MemberStats) Chat(period Period) uint64 {
	switch period {
	case PeriodDaily:
		return m.ChatDaily
	case PeriodWeekly:
		return m.ChatWeekly
	case PeriodMonthly:
		return m.ChatMonthly
	default:
		return m.ChatAllTime
	}
}

// Voice returns the voice-minutes counter for a period.
func (m MemberStats) Voice(period Period) float64 {
	switch period {
	case PeriodDaily:
		return m.VoiceDaily
	case PeriodWeekly:
		return m.VoiceWeekly
	case PeriodMonthly:
		return m.VoiceMonthly
	default:
		return m.VoiceAllTime
	}
}

// Last successful reset per (guild, kind, period). Durable authority for
// reset idempotence across restarts.
type ResetState struct {
	GuildID   string `gorm:"primaryKey;size:64"`
	Kind      string `gorm:"primaryKey;size:8"`
	Period    string `gorm:"primaryKey;size:8"`
	LastReset time.Time
}

// Snapshot of nonzero counters taken immediately before a bucket is
// zeroed. Entries holds the serialized rows.
type ActivityArchive struct {
	ID      uint64 `gorm:"primaryKey"`
	GuildID string `gorm:"index;size:64;not null"`
	Kind    string `gorm:"size:8;not null"`
	Period  string `gorm:"size:8;not null"`
	ResetAt time.Time `gorm:"index"`
	Entries string    `gorm:"type:longtext"`
}

// Star of the week configuration
type StarConfig struct {
	GuildID           string  `gorm:"primaryKey;size:64"`
	RoleID            string  `gorm:"size:64"`
	AnnounceChannelID string  `gorm:"size:64"`
	WeightChat        float64 `gorm:"default:1"`
	WeightVoice       float64 `gorm:"default:2"`
	UpdatedAt         time.Time
}

// Star of the week selection history. The newest row per guild gates
// re-selection within the same week.
type StarWinner struct {
	ID          uint64  `gorm:"primaryKey"`
	GuildID     string  `gorm:"index;size:64;not null"`
	UserID      string  `gorm:"size:64;not null"`
	Score       float64 `gorm:"not null"`
	ChatWeekly  uint64
	VoiceWeekly float64
	AwardedAt   time.Time `gorm:"index"`
}

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}
