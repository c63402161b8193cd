package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stake-plus/activity-leaderboard/src/activitybot/bot"
	"github.com/stake-plus/activity-leaderboard/src/activitybot/config"
	"github.com/stake-plus/activity-leaderboard/src/data"
)

func main() {
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "leaderboard:leaderboard@tcp(127.0.0.1:3306)/leaderboard"
	}

	db := data.MustMySQL(mysqlDSN)
	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	cfg := config.Load(db)
	if cfg.Token == "" {
		log.Fatal("DISCORD_TOKEN not set in database or environment")
	}

	rdb := data.MustRedis(cfg.RedisURL)

	b, err := bot.New(bot.Config{
		Token: cfg.Token,
		DB:    db,
		Redis: rdb,
	})
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	if err := b.Start(); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	log.Println("Activity leaderboard bot is running. Press CTRL-C to exit.")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	b.Stop()
	log.Println("Activity leaderboard bot stopped gracefully")
}
