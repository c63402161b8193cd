package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"github.com/stake-plus/activity-leaderboard/src/activitybot/config"
	"github.com/stake-plus/activity-leaderboard/src/components/flush"
	"github.com/stake-plus/activity-leaderboard/src/components/integrity"
	"github.com/stake-plus/activity-leaderboard/src/components/presence"
	"github.com/stake-plus/activity-leaderboard/src/components/ranking"
	"github.com/stake-plus/activity-leaderboard/src/components/reset"
	"github.com/stake-plus/activity-leaderboard/src/components/stats"
	"github.com/stake-plus/activity-leaderboard/src/data"
	"github.com/stake-plus/activity-leaderboard/src/types"
	"gorm.io/gorm"
)

const configRefreshInterval = 5 * time.Minute

type Config struct {
	Token string
	DB    *gorm.DB
	Redis *redis.Client
}

type Bot struct {
	session *discordgo.Session
	db      *gorm.DB
	rdb     *redis.Client

	store     *stats.Store
	state     *stats.StateStore
	tracker   *presence.Tracker
	queue     *flush.Queue
	scheduler *reset.Scheduler
	checker   *integrity.Checker
	ranking   *ranking.Engine
	retry     data.RetryPolicy

	configs  map[string]types.GuildConfig
	configMu sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started sync.Once
}

func New(config Config) (*Bot, error) {
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bot{
		session: dg,
		db:      config.DB,
		rdb:     config.Redis,
		configs: make(map[string]types.GuildConfig),
		retry:   data.DefaultRetry(),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.initializeComponents()
	b.registerHandlers()

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates

	return b, nil
}

func (b *Bot) initializeComponents() {
	b.store = stats.NewStore(b.db)
	b.state = stats.NewStateStore(b.db)

	b.queue = flush.NewQueue(flush.Config{
		Store: b.store,
		Retry: b.retry,
	})
	b.tracker = presence.NewTracker(b.queue)
	b.queue.BindSessions(b.tracker)

	b.ranking = ranking.NewEngine(b.store, b.isBot)

	var lock reset.Locker
	var pub reset.Publisher
	if b.rdb != nil {
		lock = data.NewTaskLock(b.rdb)
		pub = &starPublisher{rdb: b.rdb}
	}
	b.scheduler = reset.NewScheduler(reset.Config{
		Counters:  b.store,
		State:     b.state,
		Selector:  b.ranking,
		Lock:      lock,
		Publisher: pub,
	})

	b.checker = integrity.NewChecker(b.store, integrity.DefaultInterval)
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleMessageCreate)
	b.session.AddHandler(b.handleVoiceStateUpdate)
	b.session.AddHandler(b.handleGuildCreate)
	b.session.AddHandler(b.handleGuildDelete)
}

func (b *Bot) Start() error {
	return b.session.Open()
}

// Stop cancels every background loop, waits for them to drain (the flush
// queue closes and persists open sessions on its way out), then closes
// the Discord session.
func (b *Bot) Stop() {
	b.cancel()
	b.wg.Wait()
	b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Discord bot logged in as %s", event.User.Username)

	if err := b.reloadConfigs(); err != nil {
		log.Printf("Failed to load guild configs: %v", err)
	}
	b.seedSessions(s)

	b.started.Do(func() {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.queue.Run(b.ctx)
		}()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.scheduler.Run(b.ctx)
		}()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.checker.Run(b.ctx)
		}()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.refreshConfigs(b.ctx)
		}()
	})
}

// seedSessions walks every guild currently in state. The Ready payload
// only carries guild stubs, so this mostly covers resumed sessions; the
// authoritative seeding happens per guild in handleGuildCreate once the
// full guild (with voice states) arrives.
func (b *Bot) seedSessions(s *discordgo.Session) {
	seeded := 0
	for _, guild := range s.State.Guilds {
		seeded += b.seedGuildSessions(guild)
	}
	log.Printf("Seeded %d active voice sessions", seeded)
}

// seedGuildSessions opens a session for every non-bot member already
// sitting in a non-AFK voice channel, so time between process start and
// their next transition still counts. Open leaves existing sessions
// untouched, so re-delivered guild state is harmless.
func (b *Bot) seedGuildSessions(guild *discordgo.Guild) int {
	cfg, ok := b.guildConfig(guild.ID)
	if !ok || !cfg.VoiceEnabled {
		return 0
	}
	seeded := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == "" || vs.ChannelID == guild.AfkChannelID {
			continue
		}
		if b.isBot(guild.ID, vs.UserID) {
			continue
		}
		b.tracker.Open(guild.ID, vs.UserID)
		seeded++
	}
	return seeded
}

func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	cfg, ok := b.guildConfig(m.GuildID)
	if !ok || !cfg.ChatEnabled {
		return
	}

	err := b.retry.Do(b.ctx, func() error {
		return b.store.IncrementChat(b.ctx, m.GuildID, m.Author.ID)
	})
	if err != nil {
		log.Printf("Failed to count message for %s/%s: %v", m.GuildID, m.Author.ID, err)
	}
}

func (b *Bot) handleVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	cfg, ok := b.guildConfig(v.GuildID)
	if !ok || !cfg.VoiceEnabled {
		return
	}

	afkChannelID := ""
	if guild, err := s.State.Guild(v.GuildID); err == nil {
		afkChannelID = guild.AfkChannelID
	}

	ev := presence.Event{
		GuildID:        v.GuildID,
		UserID:         v.UserID,
		AfterChannelID: v.ChannelID,
		AfterAFK:       v.ChannelID != "" && v.ChannelID == afkChannelID,
		Bot:            b.isBot(v.GuildID, v.UserID),
	}
	if v.BeforeUpdate != nil {
		ev.BeforeChannelID = v.BeforeUpdate.ChannelID
		ev.BeforeAFK = v.BeforeUpdate.ChannelID != "" && v.BeforeUpdate.ChannelID == afkChannelID
	}
	if v.Member != nil && v.Member.User != nil {
		ev.Bot = v.Member.User.Bot
	}

	b.tracker.HandleEvent(ev)
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if err := b.state.EnsureGuildConfig(b.ctx, g.ID); err != nil {
		log.Printf("Failed to ensure config for guild %s: %v", g.ID, err)
		return
	}
	if err := b.reloadConfigs(); err != nil {
		log.Printf("Failed to reload guild configs: %v", err)
	}
	if n := b.seedGuildSessions(g.Guild); n > 0 {
		log.Printf("Seeded %d active voice sessions in guild %s", n, g.ID)
	}
}

func (b *Bot) handleGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		// Outage, not a removal; keep everything.
		return
	}
	if err := b.state.CleanupGuild(b.ctx, g.ID); err != nil {
		log.Printf("Failed to clean up guild %s: %v", g.ID, err)
	}
	b.configMu.Lock()
	delete(b.configs, g.ID)
	b.configMu.Unlock()
}

// refreshConfigs keeps the in-memory guild config cache current with
// changes made by external tooling.
func (b *Bot) refreshConfigs(ctx context.Context) {
	ticker := time.NewTicker(configRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.reloadConfigs(); err != nil {
				log.Printf("Failed to reload guild configs: %v", err)
			}
		}
	}
}

func (b *Bot) reloadConfigs() error {
	var configs []types.GuildConfig
	if err := b.db.Find(&configs).Error; err != nil {
		return fmt.Errorf("load guild configs: %w", err)
	}

	b.configMu.Lock()
	defer b.configMu.Unlock()
	b.configs = make(map[string]types.GuildConfig, len(configs))
	for _, cfg := range configs {
		cfg.Timezone = config.ValidTimezone(cfg.Timezone)
		b.configs[cfg.GuildID] = cfg
	}
	return nil
}

func (b *Bot) guildConfig(guildID string) (types.GuildConfig, bool) {
	b.configMu.RLock()
	defer b.configMu.RUnlock()
	cfg, ok := b.configs[guildID]
	return cfg, ok
}

func (b *Bot) isBot(guildID, userID string) bool {
	member, err := b.session.State.Member(guildID, userID)
	if err != nil || member.User == nil {
		return false
	}
	return member.User.Bot
}

type starPublisher struct {
	rdb *redis.Client
}

func (p *starPublisher) PublishStar(ctx context.Context, guildID string, winner *ranking.ScoreEntry) error {
	return data.PublishStarWinner(ctx, p.rdb, map[string]interface{}{
		"guild":         guildID,
		"user":          winner.UserID,
		"score":         winner.Score,
		"messages":      winner.Messages,
		"voice_minutes": winner.VoiceMinutes,
		"time":          time.Now().Unix(),
	})
}
