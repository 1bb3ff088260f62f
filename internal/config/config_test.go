package config

import (
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := Default()
	if cfg.ConfirmationToleranceDays != def.ConfirmationToleranceDays {
		t.Errorf("expected tolerance %d, got %d", def.ConfirmationToleranceDays, cfg.ConfirmationToleranceDays)
	}
	if !cfg.LowBalanceFloor.IsZero() {
		t.Errorf("expected zero floor, got %s", cfg.LowBalanceFloor)
	}
	if cfg.ForecastCacheTTL != 5*time.Minute {
		t.Errorf("expected 5m cache ttl, got %s", cfg.ForecastCacheTTL)
	}
	if cfg.MaxCatchUp != 1000 {
		t.Errorf("expected max catch up 1000, got %d", cfg.MaxCatchUp)
	}
}

func TestNewConfigOverrides(t *testing.T) {
	t.Setenv("CONFIRMATION_TOLERANCE_DAYS", "5")
	t.Setenv("LOW_BALANCE_FLOOR", "250.50")
	t.Setenv("FORECAST_CACHE_TTL", "0s")
	t.Setenv("RUN_MIGRATIONS", "false")

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ConfirmationToleranceDays != 5 {
		t.Errorf("expected tolerance 5, got %d", cfg.ConfirmationToleranceDays)
	}
	if cfg.LowBalanceFloor.String() != "250.5" {
		t.Errorf("expected floor 250.5, got %s", cfg.LowBalanceFloor)
	}
	if cfg.ForecastCacheTTL != 0 {
		t.Errorf("expected caching disabled, got %s", cfg.ForecastCacheTTL)
	}
	if cfg.RunMigrations {
		t.Error("expected migrations disabled")
	}
}

func TestNewConfigRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"CONFIRMATION_TOLERANCE_DAYS": "three",
		"LOW_BALANCE_FLOOR":           "low",
		"FORECAST_CACHE_TTL":          "soon",
		"MAX_CATCH_UP":                "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := NewConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
