package vault

import (
	"fmt"

	nativecommon "fluxrisk/native/common"
)

const (
	DefaultRatePerSecond           = 5
	DefaultRateScale               = 1_000_000_000
	DefaultLiquidationThresholdBps = 10_000
	DefaultSwapSlippageBps         = 50
	DefaultAssumedVolatilityBps    = 800
)

// InterestRate is the simple per-second rate applied to outstanding debt,
// expressed as PerSecond/Scale.
type InterestRate struct {
	PerSecond uint64 `toml:"PerSecond"`
	Scale     uint64 `toml:"Scale"`
}

func (r InterestRate) interest(debt, elapsed uint64) (nativecommon.Uint128, error) {
	if debt == 0 || elapsed == 0 || r.PerSecond == 0 {
		return nativecommon.Uint128{}, nil
	}
	product, err := nativecommon.U128(debt).MulU64(r.PerSecond)
	if err != nil {
		return nativecommon.Uint128{}, err
	}
	product, err = product.MulU64(elapsed)
	if err != nil {
		return nativecommon.Uint128{}, err
	}
	return product.DivU64(r.Scale)
}

// Defaults seeds newly created vaults.
type Defaults struct {
	RiskFactor           uint64 `toml:"RiskFactor"`
	CollateralRatioFloor uint64 `toml:"CollateralRatioFloorBps"`
	PerformanceFeeRate   uint64 `toml:"PerformanceFeeBps"`
	ManagementFeeRate    uint64 `toml:"ManagementFeeBps"`
	FlashLoanFeeRate     uint64 `toml:"FlashLoanFeeBps"`
	LiquidationPenalty   uint64 `toml:"LiquidationPenaltyBps"`
	LiquidationBonus     uint64 `toml:"LiquidationBonusBps"`
}

// Params captures the runtime configuration for the vault ledger.
type Params struct {
	Interest                InterestRate `toml:"interest"`
	LiquidationThresholdBps uint64       `toml:"LiquidationThresholdBps"`
	SwapSlippageBps         uint64       `toml:"SwapSlippageBps"`
	AssumedVolatilityBps    uint64       `toml:"AssumedVolatilityBps"`
	Defaults                Defaults     `toml:"defaults"`
}

// DefaultParams returns the production parameter set.
func DefaultParams() Params {
	return Params{
		Interest:                InterestRate{PerSecond: DefaultRatePerSecond, Scale: DefaultRateScale},
		LiquidationThresholdBps: DefaultLiquidationThresholdBps,
		SwapSlippageBps:         DefaultSwapSlippageBps,
		AssumedVolatilityBps:    DefaultAssumedVolatilityBps,
		Defaults: Defaults{
			RiskFactor:           MinRiskFactor,
			CollateralRatioFloor: 15_000,
			PerformanceFeeRate:   1_000,
			ManagementFeeRate:    200,
			FlashLoanFeeRate:     9,
			LiquidationPenalty:   500,
			LiquidationBonus:     500,
		},
	}
}

// EnsureDefaults fills zero-valued fields that have no meaningful zero.
func (p *Params) EnsureDefaults() {
	if p == nil {
		return
	}
	defaults := DefaultParams()
	if p.Interest.Scale == 0 {
		p.Interest.Scale = defaults.Interest.Scale
	}
	if p.LiquidationThresholdBps == 0 {
		p.LiquidationThresholdBps = defaults.LiquidationThresholdBps
	}
	if p.SwapSlippageBps == 0 {
		p.SwapSlippageBps = defaults.SwapSlippageBps
	}
	if p.AssumedVolatilityBps == 0 {
		p.AssumedVolatilityBps = defaults.AssumedVolatilityBps
	}
	if p.Defaults.RiskFactor == 0 {
		p.Defaults.RiskFactor = defaults.Defaults.RiskFactor
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.Interest.Scale == 0 {
		return fmt.Errorf("vault params: interest scale must be positive")
	}
	if p.LiquidationThresholdBps == 0 {
		return fmt.Errorf("vault params: liquidation threshold must be positive")
	}
	if p.SwapSlippageBps > nativecommon.BasisPoints {
		return fmt.Errorf("vault params: swap slippage %d exceeds %d bps", p.SwapSlippageBps, nativecommon.BasisPoints)
	}
	if p.Defaults.RiskFactor < MinRiskFactor || p.Defaults.RiskFactor > MaxRiskFactor {
		return fmt.Errorf("vault params: default risk factor %d outside [%d, %d]: %w",
			p.Defaults.RiskFactor, MinRiskFactor, MaxRiskFactor, nativecommon.ErrInvalidRiskFactor)
	}
	checks := []struct {
		name  string
		value uint64
	}{
		{"performance fee", p.Defaults.PerformanceFeeRate},
		{"management fee", p.Defaults.ManagementFeeRate},
		{"flash loan fee", p.Defaults.FlashLoanFeeRate},
		{"liquidation penalty", p.Defaults.LiquidationPenalty},
		{"liquidation bonus", p.Defaults.LiquidationBonus},
	}
	for _, check := range checks {
		if check.value > nativecommon.BasisPoints {
			return fmt.Errorf("vault params: %s %d exceeds %d bps", check.name, check.value, nativecommon.BasisPoints)
		}
	}
	return nil
}
