package config

import "testing"

func TestLoadConfig_DefaultsAndCoercions(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Fatalf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.QueueEnabled {
		t.Fatal("QueueEnabled should default to false")
	}
	if cfg.WorkerConcurrency != 5 || cfg.DispatchMaxAttempts != 3 || cfg.DispatchBackoffSec != 5 {
		t.Fatalf("worker defaults = %d/%d/%d", cfg.WorkerConcurrency, cfg.DispatchMaxAttempts, cfg.DispatchBackoffSec)
	}
	if cfg.RewardTopN != 10 || cfg.RewardToken != "USDC" || cfg.RewardPolicy != "equal" {
		t.Fatalf("reward defaults = %d/%s/%s", cfg.RewardTopN, cfg.RewardToken, cfg.RewardPolicy)
	}
	if cfg.WeeklyCloseSchedule != "5 0 * * 1" {
		t.Fatalf("schedule = %q", cfg.WeeklyCloseSchedule)
	}
	if cfg.PayoutMode != "custodial" {
		t.Fatalf("payout mode = %q, want custodial", cfg.PayoutMode)
	}
}

func TestLoadConfig_NormalizesModeAndPolicy(t *testing.T) {
	t.Setenv("PAYOUT_MODE", "ONCHAIN")
	t.Setenv("REWARD_ALLOCATION_MODE", "Weighted")
	t.Setenv("REWARD_TOP_N", "-2")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PayoutMode != "onchain" {
		t.Fatalf("payout mode = %q, want onchain", cfg.PayoutMode)
	}
	if cfg.RewardPolicy != "weighted" {
		t.Fatalf("policy = %q, want weighted", cfg.RewardPolicy)
	}
	if cfg.RewardTopN != 10 {
		t.Fatalf("top n = %d, want coerced 10", cfg.RewardTopN)
	}
}

func TestLoadConfig_LegacyPoolVariable(t *testing.T) {
	t.Setenv("REWARD_TOTAL_POOL_WEI", "2500000000000000000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RewardTotalPoolUnits != "2500000000000000000" {
		t.Fatalf("pool = %q", cfg.RewardTotalPoolUnits)
	}
}
