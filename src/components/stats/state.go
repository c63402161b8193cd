package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stake-plus/activity-leaderboard/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateStore persists reset bookkeeping: last-reset timestamps, archive
// records and star history. The persisted rows, not in-memory state, are
// the authority for exactly-once resets across restarts.
type StateStore struct {
	db *gorm.DB
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// LastReset returns the persisted last-reset time for (guild, kind,
// period). ok is false when no reset has ever been recorded.
func (s *StateStore) LastReset(ctx context.Context, guildID string, kind types.Kind, period types.Period) (time.Time, bool, error) {
	var state types.ResetState
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND kind = ? AND period = ?", guildID, string(kind), string(period)).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last reset %s/%s/%s: %w", guildID, kind, period, err)
	}
	return state.LastReset, true, nil
}

// MarkReset records a completed reset. Must be the final step of a reset
// so a crash mid-reset re-fires instead of skipping.
func (s *StateStore) MarkReset(ctx context.Context, guildID string, kind types.Kind, period types.Period, at time.Time) error {
	state := types.ResetState{
		GuildID: guildID,
		Kind:    string(kind),
		Period:  string(period),
		LastReset: at,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "kind"}, {Name: "period"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_reset"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("mark reset %s/%s/%s: %w", guildID, kind, period, err)
	}
	return nil
}

// AppendArchive stores a snapshot of nonzero rows taken before zeroing.
func (s *StateStore) AppendArchive(ctx context.Context, guildID string, kind types.Kind, period types.Period, resetAt time.Time, rows []types.MemberStats) error {
	if len(rows) == 0 {
		return nil
	}
	entries, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal archive entries: %w", err)
	}
	rec := types.ActivityArchive{
		GuildID: guildID,
		Kind:    string(kind),
		Period:  string(period),
		ResetAt: resetAt,
		Entries: string(entries),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append archive %s/%s/%s: %w", guildID, kind, period, err)
	}
	return nil
}

// PurgeArchives deletes archive records older than the retention cutoff.
func (s *StateStore) PurgeArchives(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("reset_at < ?", before).
		Delete(&types.ActivityArchive{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge archives: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// StarConfig returns the star-of-the-week config for a guild, nil when
// the feature is not configured.
func (s *StateStore) StarConfig(ctx context.Context, guildID string) (*types.StarConfig, error) {
	var cfg types.StarConfig
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("star config %s: %w", guildID, err)
	}
	return &cfg, nil
}

// LastStarAward returns the newest star selection time for a guild.
func (s *StateStore) LastStarAward(ctx context.Context, guildID string) (time.Time, bool, error) {
	var winner types.StarWinner
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("awarded_at DESC").
		First(&winner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last star award %s: %w", guildID, err)
	}
	return winner.AwardedAt, true, nil
}

// SaveStarWinner appends a selection to the history.
func (s *StateStore) SaveStarWinner(ctx context.Context, w *types.StarWinner) error {
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("save star winner %s/%s: %w", w.GuildID, w.UserID, err)
	}
	return nil
}

// EnsureGuildConfig upserts a default config row for a newly seen guild.
func (s *StateStore) EnsureGuildConfig(ctx context.Context, guildID string) error {
	cfg := types.GuildConfig{GuildID: guildID, Timezone: "UTC", LeaderboardLimit: 10}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		DoNothing: true,
	}).Create(&cfg).Error
	if err != nil {
		return fmt.Errorf("ensure guild config %s: %w", guildID, err)
	}
	return nil
}

// GuildConfig fetches one guild's config, nil when absent.
func (s *StateStore) GuildConfig(ctx context.Context, guildID string) (*types.GuildConfig, error) {
	var cfg types.GuildConfig
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("guild config %s: %w", guildID, err)
	}
	return &cfg, nil
}

// CleanupGuild removes every row belonging to a guild the bot left.
func (s *StateStore) CleanupGuild(ctx context.Context, guildID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&types.MemberStats{},
			&types.ResetState{},
			&types.ActivityArchive{},
			&types.StarConfig{},
			&types.StarWinner{},
			&types.GuildConfig{},
		} {
			if err := tx.Where("guild_id = ?", guildID).Delete(model).Error; err != nil {
				return fmt.Errorf("cleanup guild %s: %w", guildID, err)
			}
		}
		return nil
	})
}
