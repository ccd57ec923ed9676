package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("SOURCE_CHANNEL", "@mychannel")
	t.Setenv("TARGET_CHANNEL_ID", "-1001234567890")
	t.Setenv("DATABASE_URL", "postgres://localhost/herald")
	t.Setenv("START_DATE", "2024-06-01")
	t.Setenv("END_DATE", "2024-06-30")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ClaimLease != 10*time.Minute {
		t.Errorf("expected default lease 10m, got %v", cfg.ClaimLease)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("expected default 2 retries, got %d", cfg.MaxRetries)
	}
	if cfg.Location.String() != "UTC" {
		t.Errorf("expected UTC default, got %s", cfg.Location)
	}
	if cfg.TargetChatID != -1001234567890 {
		t.Errorf("unexpected target chat id %d", cfg.TargetChatID)
	}
	if cfg.RepostCron != "" {
		t.Errorf("expected no cron schedule by default, got %q", cfg.RepostCron)
	}
}

func TestLoadParsesWindowInTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEZONE", "Europe/Berlin")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Location.String() != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %s", cfg.Location)
	}
	if cfg.StartDate.Location() != cfg.Location {
		t.Fatalf("window dates should carry the configured timezone")
	}
	if !cfg.StartDate.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, cfg.Location)) {
		t.Fatalf("unexpected start date %v", cfg.StartDate)
	}
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestLoadRejectsInvertedWindow(t *testing.T) {
	setRequired(t)
	t.Setenv("START_DATE", "2024-07-01")
	t.Setenv("END_DATE", "2024-06-01")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "before START_DATE") {
		t.Fatalf("expected inverted window error, got %v", err)
	}
}

func TestLoadRejectsNonNumericTarget(t *testing.T) {
	setRequired(t)
	t.Setenv("TARGET_CHANNEL_ID", "@target")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TARGET_CHANNEL_ID") {
		t.Fatalf("expected numeric target error, got %v", err)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TIMEZONE") {
		t.Fatalf("expected timezone error, got %v", err)
	}
}
