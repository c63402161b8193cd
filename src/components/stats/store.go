package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/stake-plus/activity-leaderboard/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the accumulator store: per-(guild, member) counters with
// idempotent upsert-increments, sorted top-N retrieval and conditional
// zeroing.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// IncrementChat bumps all four chat buckets for a member by one message.
// Upserts so the row is created lazily on first activity.
func (s *Store) IncrementChat(ctx context.Context, guildID, userID string) error {
	now := time.Now().UTC()
	row := types.MemberStats{
		GuildID: guildID, UserID: userID,
		ChatDaily: 1, ChatWeekly: 1, ChatMonthly: 1, ChatAllTime: 1,
		LastUpdate: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"chat_daily":   gorm.Expr("chat_daily + 1"),
			"chat_weekly":  gorm.Expr("chat_weekly + 1"),
			"chat_monthly": gorm.Expr("chat_monthly + 1"),
			"chat_alltime": gorm.Expr("chat_alltime + 1"),
			"last_update":  now,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("increment chat %s/%s: %w", guildID, userID, err)
	}
	return nil
}

// IncrementVoice applies a voice-minutes delta to all four voice buckets.
func (s *Store) IncrementVoice(ctx context.Context, guildID, userID string, minutes float64) error {
	if minutes <= 0 {
		return nil
	}
	now := time.Now().UTC()
	row := types.MemberStats{
		GuildID: guildID, UserID: userID,
		VoiceDaily: minutes, VoiceWeekly: minutes, VoiceMonthly: minutes, VoiceAllTime: minutes,
		LastUpdate: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"voice_daily":   gorm.Expr("voice_daily + ?", minutes),
			"voice_weekly":  gorm.Expr("voice_weekly + ?", minutes),
			"voice_monthly": gorm.Expr("voice_monthly + ?", minutes),
			"voice_alltime": gorm.Expr("voice_alltime + ?", minutes),
			"last_update":   now,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("increment voice %s/%s: %w", guildID, userID, err)
	}
	return nil
}

// TopN returns members with a nonzero value in the bucket column, sorted
// descending. column must come from types.BucketColumn.
func (s *Store) TopN(ctx context.Context, guildID, column string, limit int) ([]types.MemberStats, error) {
	if column == "" {
		return nil, fmt.Errorf("unknown bucket column")
	}
	var rows []types.MemberStats
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND "+column+" > 0", guildID).
		Order(column + " DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top %s for %s: %w", column, guildID, err)
	}
	return rows, nil
}

// NonzeroRows returns every member with activity in the bucket column,
// used to snapshot a bucket before zeroing it.
func (s *Store) NonzeroRows(ctx context.Context, guildID, column string) ([]types.MemberStats, error) {
	if column == "" {
		return nil, fmt.Errorf("unknown bucket column")
	}
	var rows []types.MemberStats
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND "+column+" > 0", guildID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("nonzero %s for %s: %w", column, guildID, err)
	}
	return rows, nil
}

// ZeroBucket resets one bucket column for every member of a guild.
func (s *Store) ZeroBucket(ctx context.Context, guildID, column string) error {
	if column == "" {
		return fmt.Errorf("unknown bucket column")
	}
	err := s.db.WithContext(ctx).
		Model(&types.MemberStats{}).
		Where("guild_id = ?", guildID).
		Update(column, 0).Error
	if err != nil {
		return fmt.Errorf("zero %s for %s: %w", column, guildID, err)
	}
	return nil
}

// ActiveRows returns members with any weekly activity, the candidate pool
// for star-of-the-week selection.
func (s *Store) ActiveRows(ctx context.Context, guildID string) ([]types.MemberStats, error) {
	var rows []types.MemberStats
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND (chat_weekly > 0 OR voice_weekly > 0)", guildID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("active rows for %s: %w", guildID, err)
	}
	return rows, nil
}

// AllRows returns every counter row for a guild. Integrity checks only.
func (s *Store) AllRows(ctx context.Context, guildID string) ([]types.MemberStats, error) {
	var rows []types.MemberStats
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("all rows for %s: %w", guildID, err)
	}
	return rows, nil
}

// EnabledGuilds returns guilds with either leaderboard feature on.
func (s *Store) EnabledGuilds(ctx context.Context) ([]types.GuildConfig, error) {
	var configs []types.GuildConfig
	err := s.db.WithContext(ctx).
		Where("chat_enabled = ? OR voice_enabled = ?", true, true).
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("enabled guilds: %w", err)
	}
	return configs, nil
}
