package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"stablecore/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("grpc addr: got %s, want :9090", cfg.GRPCAddr)
	}
	if cfg.SnapshotInterval != 100_000 {
		t.Errorf("snapshot interval: got %d", cfg.SnapshotInterval)
	}
}

func TestLoad_FileAndAssetParams(t *testing.T) {
	path := writeConfig(t, `
PostgresURL = "postgres://u:p@db:5432/stablecore?sslmode=disable"
SnapshotInterval = 500

[[Assets]]
Symbol = "ETH"
MCR = "1100000000000000000"
CCR = "1500000000000000000"

[[Assets]]
Symbol = "WBTC"
Decimals = 8
LiquidationBonusDivisor = 100
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SnapshotInterval != 500 {
		t.Errorf("snapshot interval: got %d, want 500", cfg.SnapshotInterval)
	}
	if len(cfg.Assets) != 2 {
		t.Fatalf("assets: got %d, want 2", len(cfg.Assets))
	}

	eth, err := cfg.Assets[0].Params()
	if err != nil {
		t.Fatalf("eth params: %v", err)
	}
	if eth.MCR.String() != "1100000000000000000" {
		t.Errorf("eth mcr: got %s", eth.MCR)
	}
	if eth.MinNetDebt.Sign() <= 0 {
		t.Errorf("eth min net debt should default positive, got %s", eth.MinNetDebt)
	}

	wbtc, err := cfg.Assets[1].Params()
	if err != nil {
		t.Fatalf("wbtc params: %v", err)
	}
	if wbtc.Decimals != 8 {
		t.Errorf("wbtc decimals: got %d, want 8", wbtc.Decimals)
	}
	if wbtc.LiquidationBonusDivisor != 100 {
		t.Errorf("wbtc bonus divisor: got %d", wbtc.LiquidationBonusDivisor)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `Postgres = "typo"`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STABLE_GRPC_ADDR", ":7777")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GRPCAddr != ":7777" {
		t.Errorf("grpc addr: got %s, want :7777", cfg.GRPCAddr)
	}
}

func TestLoad_DuplicateAssetRejected(t *testing.T) {
	path := writeConfig(t, `
[[Assets]]
Symbol = "ETH"

[[Assets]]
Symbol = "ETH"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for duplicate asset")
	}
}

func TestFlashFee(t *testing.T) {
	cfg := config.Default()
	fee, err := cfg.FlashFee()
	if err != nil || fee != nil {
		t.Fatalf("unset flash fee: got %v, %v", fee, err)
	}

	cfg.FlashFeeRate = "500000000000000"
	fee, err = cfg.FlashFee()
	if err != nil {
		t.Fatalf("flash fee: %v", err)
	}
	if fee.String() != "500000000000000" {
		t.Errorf("flash fee: got %s", fee)
	}

	cfg.FlashFeeRate = "abc"
	if _, err := cfg.FlashFee(); err == nil {
		t.Fatal("expected error for bad flash fee")
	}
}
