package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"fluxrisk/native/compliance"
	"fluxrisk/native/vault"
)

const (
	// DefaultOracleMaxAgeSeconds bounds how old a price may be before the
	// health check and liquidation refuse it.
	DefaultOracleMaxAgeSeconds = 60
	// DefaultSettlementAsset is the custodial asset moved by transfers and
	// liquidation bonuses.
	DefaultSettlementAsset = "USDC"
)

// OracleParams configures price resolution.
type OracleParams struct {
	MaxAgeSeconds int64 `toml:"MaxAgeSeconds"`
}

// BankParams configures the custodial ledger.
type BankParams struct {
	SettlementAsset string `toml:"SettlementAsset"`
}

// Params is the engine parameter file. Daemon wiring lives in the service
// configuration.
type Params struct {
	Vault      vault.Params      `toml:"vault"`
	Compliance compliance.Params `toml:"compliance"`
	Oracle     OracleParams      `toml:"oracle"`
	Bank       BankParams        `toml:"bank"`
}

// Default returns the production parameter set.
func Default() *Params {
	return &Params{
		Vault:      vault.DefaultParams(),
		Compliance: compliance.DefaultParams(),
		Oracle:     OracleParams{MaxAgeSeconds: DefaultOracleMaxAgeSeconds},
		Bank:       BankParams{SettlementAsset: DefaultSettlementAsset},
	}
}

// Load reads the parameter file at path. When the file does not exist the
// defaults are written there and returned.
func Load(path string) (*Params, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Params{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults fills unset sections.
func (p *Params) EnsureDefaults() {
	if p == nil {
		return
	}
	p.Vault.EnsureDefaults()
	p.Compliance.EnsureDefaults()
	if p.Oracle.MaxAgeSeconds == 0 {
		p.Oracle.MaxAgeSeconds = DefaultOracleMaxAgeSeconds
	}
	p.Bank.SettlementAsset = strings.ToUpper(strings.TrimSpace(p.Bank.SettlementAsset))
	if p.Bank.SettlementAsset == "" {
		p.Bank.SettlementAsset = DefaultSettlementAsset
	}
}

// Validate checks every section.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("config: params required")
	}
	if err := p.Vault.Validate(); err != nil {
		return err
	}
	if err := p.Compliance.Validate(); err != nil {
		return err
	}
	if p.Oracle.MaxAgeSeconds < 0 {
		return fmt.Errorf("oracle: max_age_seconds must not be negative")
	}
	return nil
}

func createDefault(path string) (*Params, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Params) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
