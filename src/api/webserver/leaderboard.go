package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/activity-leaderboard/src/components/ranking"
	"github.com/stake-plus/activity-leaderboard/src/components/stats"
	"github.com/stake-plus/activity-leaderboard/src/types"
	"gorm.io/gorm"
)

// Leaderboard serves read-only activity data to out-of-process consumers.
// No bot filter here: the API has no Discord session, so ranking previews
// include every stored member.
type Leaderboard struct {
	store  *stats.Store
	state  *stats.StateStore
	engine *ranking.Engine
}

func NewLeaderboard(db *gorm.DB) *Leaderboard {
	store := stats.NewStore(db)
	return &Leaderboard{
		store:  store,
		state:  stats.NewStateStore(db),
		engine: ranking.NewEngine(store, nil),
	}
}

func (l *Leaderboard) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Top returns one page of a guild leaderboard.
// Query params: kind=chat|voice, period=daily|weekly|monthly|alltime, page=N.
func (l *Leaderboard) Top(c *gin.Context) {
	guildID := c.Param("id")

	kind := types.Kind(c.DefaultQuery("kind", string(types.KindChat)))
	period := types.Period(c.DefaultQuery("period", string(types.PeriodWeekly)))
	if types.BucketColumn(kind, period) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"err": "unknown kind/period"})
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad page"})
		return
	}

	cfg, err := l.state.GuildConfig(c.Request.Context(), guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "unknown guild"})
		return
	}

	result, err := l.engine.Top(c.Request.Context(), guildID, kind, period, page)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Star returns a live most-active-member preview using the guild's
// configured weights, falling back to defaults when unconfigured.
func (l *Leaderboard) Star(c *gin.Context) {
	guildID := c.Param("id")
	ctx := c.Request.Context()

	weightChat := ranking.DefaultWeightChat
	weightVoice := ranking.DefaultWeightVoice
	if cfg, err := l.state.StarConfig(ctx, guildID); err == nil && cfg != nil {
		weightChat = cfg.WeightChat
		weightVoice = cfg.WeightVoice
	}

	winner, err := l.engine.SelectStar(ctx, guildID, weightChat, weightVoice)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if winner == nil {
		c.JSON(http.StatusOK, gin.H{"winner": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"winner": winner})
}
