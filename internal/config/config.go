package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"herald/pkg/config"
)

// Config is the full service configuration, resolved from the environment.
type Config struct {
	BotToken      string
	SourceChannel string
	TargetChatID  int64

	StartDate time.Time
	EndDate   time.Time
	Location  *time.Location

	DatabaseURL string
	Port        string

	// RepostCron is empty when only HTTP triggers drive reposting.
	RepostCron string

	ClaimLease time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Load resolves the configuration from the environment. Missing required
// variables and malformed values are errors, not defaults: a repost bot with
// a wrong window silently does the wrong thing.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       config.GetEnv("PORT", "8080"),
		RepostCron: config.GetEnv("REPOST_CRON", ""),
		ClaimLease: config.GetEnvDuration("CLAIM_LEASE", 10*time.Minute),
		MaxRetries: config.GetEnvInt("MAX_RETRIES", 2),
		RetryDelay: config.GetEnvDuration("RETRY_DELAY", 2*time.Second),
	}

	var err error
	if cfg.BotToken, err = require("TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.SourceChannel, err = require("SOURCE_CHANNEL"); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL, err = require("DATABASE_URL"); err != nil {
		return nil, err
	}

	target, err := require("TARGET_CHANNEL_ID")
	if err != nil {
		return nil, err
	}
	cfg.TargetChatID, err = strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("TARGET_CHANNEL_ID must be a numeric chat id: %w", err)
	}

	tz := config.GetEnv("TIMEZONE", "UTC")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	if cfg.StartDate, err = requireDate("START_DATE", cfg.Location); err != nil {
		return nil, err
	}
	if cfg.EndDate, err = requireDate("END_DATE", cfg.Location); err != nil {
		return nil, err
	}
	if cfg.EndDate.Before(cfg.StartDate) {
		return nil, fmt.Errorf("END_DATE %s is before START_DATE %s",
			cfg.EndDate.Format("2006-01-02"), cfg.StartDate.Format("2006-01-02"))
	}

	return cfg, nil
}

func require(key string) (string, error) {
	value := strings.TrimSpace(config.GetEnv(key, ""))
	if value == "" {
		return "", fmt.Errorf("environment variable %s is required", key)
	}
	return value, nil
}

func requireDate(key string, loc *time.Location) (time.Time, error) {
	value, err := require(key)
	if err != nil {
		return time.Time{}, err
	}
	date, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
	}
	return date, nil
}
