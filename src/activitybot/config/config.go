package config

import (
	"log"
	"os"
	"time"

	"github.com/stake-plus/activity-leaderboard/src/data"
	"gorm.io/gorm"
)

type Config struct {
	Token    string
	MySQLDSN string
	RedisURL string
}

func Load(db *gorm.DB) Config {
	// Load settings from database
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	// Get values from database with env fallbacks
	discordToken := data.GetSetting("discord_token")
	if discordToken == "" {
		discordToken = os.Getenv("DISCORD_TOKEN")
	}

	return Config{
		Token:    discordToken,
		MySQLDSN: getenv("MYSQL_DSN", "leaderboard:leaderboard@tcp(127.0.0.1:3306)/leaderboard"),
		RedisURL: getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
	}
}

// ValidTimezone returns the name if it loads as an IANA zone, otherwise
// "UTC" with a warning.
func ValidTimezone(name string) string {
	if name == "" {
		return "UTC"
	}
	if _, err := time.LoadLocation(name); err != nil {
		log.Printf("config: invalid timezone %q, using UTC", name)
		return "UTC"
	}
	return name
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
