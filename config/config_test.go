package config

import (
	"os"
	"path/filepath"
	"testing"

	"fluxrisk/native/compliance"
	"fluxrisk/native/vault"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "params.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vault.Interest.PerSecond != vault.DefaultRatePerSecond {
		t.Fatalf("unexpected interest rate: %+v", cfg.Vault.Interest)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", reloaded, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `
[vault]
LiquidationThresholdBps = 9500
SwapSlippageBps = 100

[vault.interest]
PerSecond = 7
Scale = 1000000000

[vault.defaults]
RiskFactor = 250
CollateralRatioFloorBps = 16000

[compliance]
KYCThreshold = 500
CooldownSeconds = 10

[oracle]
MaxAgeSeconds = 30

[bank]
SettlementAsset = "usdt"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vault.LiquidationThresholdBps != 9_500 || cfg.Vault.Interest.PerSecond != 7 {
		t.Fatalf("unexpected vault params: %+v", cfg.Vault)
	}
	if cfg.Vault.Defaults.RiskFactor != 250 || cfg.Vault.Defaults.CollateralRatioFloor != 16_000 {
		t.Fatalf("unexpected vault defaults: %+v", cfg.Vault.Defaults)
	}
	if cfg.Vault.AssumedVolatilityBps != vault.DefaultAssumedVolatilityBps {
		t.Fatalf("expected default volatility, got %d", cfg.Vault.AssumedVolatilityBps)
	}
	if cfg.Compliance.KYCThreshold != 500 || cfg.Compliance.CooldownSeconds != 10 {
		t.Fatalf("unexpected compliance params: %+v", cfg.Compliance)
	}
	if cfg.Compliance.WhaleAlertThreshold != compliance.DefaultWhaleAlertThreshold {
		t.Fatalf("expected default whale threshold, got %d", cfg.Compliance.WhaleAlertThreshold)
	}
	if cfg.Oracle.MaxAgeSeconds != 30 || cfg.Bank.SettlementAsset != "USDT" {
		t.Fatalf("unexpected oracle/bank params: %+v %+v", cfg.Oracle, cfg.Bank)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[vault]\nMystery = 1\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestLoadRejectsInvalidRiskFactor(t *testing.T) {
	path := writeConfig(t, "[vault.defaults]\nRiskFactor = 5000\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid risk factor error")
	}
}
