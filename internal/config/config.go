package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	BotToken    string `env:"BOT_TOKEN,notEmpty"`
	ChannelID   string `env:"CHANNEL_ID,notEmpty"`
	BotUsername string `env:"BOT_USERNAME"`
	AdminChatID int64  `env:"ADMIN_CHAT_ID"`

	// SkipPendingUpdates drops commands queued while the bot was offline.
	SkipPendingUpdates bool `env:"SKIP_PENDING_UPDATES" envDefault:"true"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"referral_bot"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"referrals.db"`

	// Empty RedisHost selects the in-process user lock.
	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	ReferralReward    int64         `env:"REFERRAL_REWARD" envDefault:"2"`
	WithdrawThreshold int64         `env:"WITHDRAW_THRESHOLD" envDefault:"100"`
	LeaderboardSize   int           `env:"LEADERBOARD_SIZE" envDefault:"10"`
	MembershipTimeout time.Duration `env:"MEMBERSHIP_TIMEOUT" envDefault:"5s"`
	LockTTL           time.Duration `env:"LOCK_TTL" envDefault:"10s"`
}

// LoadConfig reads an optional .env file and then the process environment.
// A missing bot token or channel id is an error.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.ChannelID = strings.TrimSpace(cfg.ChannelID)
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("CHANNEL_ID is required")
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.ReferralReward <= 0 {
		return nil, fmt.Errorf("REFERRAL_REWARD must be positive")
	}
	if cfg.WithdrawThreshold <= 0 {
		return nil, fmt.Errorf("WITHDRAW_THRESHOLD must be positive")
	}
	if cfg.LeaderboardSize <= 0 {
		return nil, fmt.Errorf("LEADERBOARD_SIZE must be positive")
	}

	return &cfg, nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
