package ranking

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/stake-plus/activity-leaderboard/src/types"
)

const (
	// MembersPerPage is the fixed page size for leaderboard output.
	MembersPerPage = 10
	// MaxMembersFetch caps how many rows a top-N query pulls.
	MaxMembersFetch = 100

	DefaultWeightChat  = 1.0
	DefaultWeightVoice = 2.0
	maxWeight          = 1000.0
)

// StatsSource is the read side of the accumulator store.
type StatsSource interface {
	TopN(ctx context.Context, guildID, column string, limit int) ([]types.MemberStats, error)
	ActiveRows(ctx context.Context, guildID string) ([]types.MemberStats, error)
}

// BotFilter reports whether a member is a bot. A nil filter excludes no
// one; the Discord wiring injects a session-backed one.
type BotFilter func(guildID, userID string) bool

// Entry is one leaderboard row.
type Entry struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"userId"`
	Messages     uint64  `json:"messages"`
	VoiceMinutes float64 `json:"voiceMinutes"`
}

// Page is one fixed-size slice of a leaderboard.
type Page struct {
	Entries   []Entry `json:"entries"`
	Page      int     `json:"page"`
	PageCount int     `json:"pageCount"`
	Total     int     `json:"total"`
}

// ScoreEntry is a scored candidate for most-active-member selection.
// Computed on demand, never persisted.
type ScoreEntry struct {
	UserID       string  `json:"userId"`
	Score        float64 `json:"score"`
	Messages     uint64  `json:"messages"`
	VoiceMinutes float64 `json:"voiceMinutes"`
}

// Engine answers top-N queries and selects the weighted most active
// member. Stateless apart from its injected collaborators.
type Engine struct {
	stats StatsSource
	isBot BotFilter
}

func NewEngine(stats StatsSource, isBot BotFilter) *Engine {
	return &Engine{stats: stats, isBot: isBot}
}

// Top returns one page of the leaderboard for a bucket. Pages are
// fixed-size and cover every qualifying member exactly once.
func (e *Engine) Top(ctx context.Context, guildID string, kind types.Kind, period types.Period, page int) (*Page, error) {
	column := types.BucketColumn(kind, period)
	if column == "" {
		return nil, fmt.Errorf("unknown bucket %s/%s", kind, period)
	}
	rows, err := e.stats.TopN(ctx, guildID, column, MaxMembersFetch)
	if err != nil {
		return nil, err
	}

	total := len(rows)
	pageCount := (total + MembersPerPage - 1) / MembersPerPage
	if pageCount == 0 {
		pageCount = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= pageCount {
		page = pageCount - 1
	}

	start := page * MembersPerPage
	end := start + MembersPerPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	entries := make([]Entry, 0, end-start)
	for i, row := range rows[start:end] {
		entries = append(entries, Entry{
			Rank:         start + i + 1,
			UserID:       row.UserID,
			Messages:     row.Chat(period),
			VoiceMinutes: row.Voice(period),
		})
	}

	return &Page{Entries: entries, Page: page, PageCount: pageCount, Total: total}, nil
}

// Score computes the weighted composite activity score.
func Score(messages uint64, voiceMinutes, weightChat, weightVoice float64) float64 {
	return float64(messages)*weightChat + voiceMinutes*weightVoice
}

// ClampWeight validates a configured weight: non-negative, capped.
func ClampWeight(w float64, name string) float64 {
	if w < 0 {
		log.Printf("ranking: negative %s (%f), using 0", name, w)
		return 0
	}
	if w > maxWeight {
		log.Printf("ranking: excessive %s (%f), capping at %.0f", name, w, maxWeight)
		return maxWeight
	}
	return w
}

// SelectStar picks the most active member of the week. Bots and
// zero-activity members are excluded. Order: score desc, then voice
// minutes desc, then messages desc, then user id asc so identical stat
// lines always resolve to the same member. Returns nil when no member
// qualifies.
func (e *Engine) SelectStar(ctx context.Context, guildID string, weightChat, weightVoice float64) (*ScoreEntry, error) {
	rows, err := e.stats.ActiveRows(ctx, guildID)
	if err != nil {
		return nil, err
	}

	weightChat = ClampWeight(weightChat, "chat weight")
	weightVoice = ClampWeight(weightVoice, "voice weight")

	scored := make([]ScoreEntry, 0, len(rows))
	for _, row := range rows {
		if row.ChatWeekly == 0 && row.VoiceWeekly == 0 {
			continue
		}
		if e.isBot != nil && e.isBot(guildID, row.UserID) {
			continue
		}
		scored = append(scored, ScoreEntry{
			UserID:       row.UserID,
			Score:        Score(row.ChatWeekly, row.VoiceWeekly, weightChat, weightVoice),
			Messages:     row.ChatWeekly,
			VoiceMinutes: row.VoiceWeekly,
		})
	}
	if len(scored) == 0 {
		return nil, nil
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VoiceMinutes != b.VoiceMinutes {
			return a.VoiceMinutes > b.VoiceMinutes
		}
		if a.Messages != b.Messages {
			return a.Messages > b.Messages
		}
		return a.UserID < b.UserID
	})

	winner := scored[0]
	return &winner, nil
}
