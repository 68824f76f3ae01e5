package vault

import (
	"strings"

	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
)

const (
	// BaseLTVBps is the loan-to-value granted before the risk discount.
	BaseLTVBps = 8_000
	// MinRiskFactor is the floor enforced by risk relief.
	MinRiskFactor = 100
	// MaxRiskFactor is the ceiling enforced when risk tightens.
	MaxRiskFactor = 1_000
	// VolatilityTriggerBps is the volatility above which risk tightens.
	VolatilityTriggerBps = 500

	riskTightenStep  = 100
	riskRelaxStep    = 10
	penaltyStepBps   = 500
	closeFactorShare = 2
)

// Vault captures the collateral pool state. Balances are native units; all
// ratio fields are basis points.
type Vault struct {
	// Address is the unique pool identifier.
	Address crypto.Address `json:"address"`
	// Authority may change configuration and toggle the emergency flag.
	Authority crypto.Address `json:"authority"`
	// CollateralAsset and DebtAsset name the assets handed to the swap
	// collaborator during liquidation.
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`

	CollateralAmount uint64 `json:"collateralAmount"`
	DebtAmount       uint64 `json:"debtAmount"`
	// LastUpdateTime is the Unix timestamp of the last accrual.
	LastUpdateTime int64 `json:"lastUpdateTime"`
	// InterestAccumulator tracks lifetime accrued interest at full precision.
	InterestAccumulator nativecommon.Uint128 `json:"interestAccumulator"`

	RiskFactor           uint64 `json:"riskFactor"`
	CollateralRatioFloor uint64 `json:"collateralRatioFloor"`
	PerformanceFeeRate   uint64 `json:"performanceFeeRate"`
	ManagementFeeRate    uint64 `json:"managementFeeRate"`
	FlashLoanFeeRate     uint64 `json:"flashLoanFeeRate"`
	LiquidationPenalty   uint64 `json:"liquidationPenalty"`
	LiquidationBonus     uint64 `json:"liquidationBonus"`
	LastFeeCollection    int64  `json:"lastFeeCollection"`

	Frozen bool `json:"frozen"`
}

// Clone returns a copy that can be mutated without affecting the original.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// VaultAddress derives the pool address from a human-readable name.
func VaultAddress(name string) crypto.Address {
	return crypto.DeriveAddress(crypto.VaultPrefix, []byte("vault"), []byte(strings.TrimSpace(name)))
}

// Accrual describes the outcome of a single interest accrual step.
type Accrual struct {
	Elapsed int64
	// Interest is the exact amount added to the accumulator.
	Interest nativecommon.Uint128
	// DebtIncrease is Interest truncated to native units.
	DebtIncrease uint64
}

// AccrueInterest applies simple interest for the time elapsed since the last
// update. Timestamps at or before LastUpdateTime are a no-op. The vault is
// left untouched when any step would overflow.
func (v *Vault) AccrueInterest(now int64, rate InterestRate) (Accrual, error) {
	if v == nil || now <= v.LastUpdateTime {
		return Accrual{}, nil
	}
	elapsed := now - v.LastUpdateTime
	interest, err := rate.interest(v.DebtAmount, uint64(elapsed))
	if err != nil {
		return Accrual{}, err
	}
	accumulator, err := v.InterestAccumulator.Add(interest)
	if err != nil {
		return Accrual{}, err
	}
	increase, err := interest.Uint64()
	if err != nil {
		return Accrual{}, err
	}
	debt, err := nativecommon.CheckedAdd(v.DebtAmount, increase)
	if err != nil {
		return Accrual{}, err
	}
	v.InterestAccumulator = accumulator
	v.DebtAmount = debt
	v.LastUpdateTime = now
	return Accrual{Elapsed: elapsed, Interest: interest, DebtIncrease: increase}, nil
}

// MaxHealthFactor is reported for vaults without debt and caps ratios that
// do not fit 64 bits.
const MaxHealthFactor = ^uint64(0)

// CalculateHealthFactor returns the risk-adjusted collateral value over the
// debt value, scaled so that 10000 represents 1.0.
func (v *Vault) CalculateHealthFactor(collateralPrice, debtPrice uint64) (uint64, error) {
	if v == nil || v.DebtAmount == 0 {
		return MaxHealthFactor, nil
	}
	ltv := nativecommon.SaturatingSub[uint64](BaseLTVBps, v.RiskFactor)

	collateralValue, err := nativecommon.U128(v.CollateralAmount).MulU64(collateralPrice)
	if err != nil {
		return 0, err
	}
	weighted, err := collateralValue.MulU64(ltv)
	if err != nil {
		return 0, err
	}
	weighted, err = weighted.DivU64(nativecommon.BasisPoints)
	if err != nil {
		return 0, err
	}
	debtValue, err := nativecommon.U128(v.DebtAmount).MulU64(debtPrice)
	if err != nil {
		return 0, err
	}
	scaled, err := weighted.MulU64(nativecommon.BasisPoints)
	if err != nil {
		return 0, err
	}
	hf, err := scaled.Div(debtValue)
	if err != nil {
		return 0, err
	}
	return hf.SaturatingUint64(), nil
}

// ApplyRiskAdjustment tightens risk on volatility spikes and relaxes it
// gradually otherwise. It reports whether risk was tightened.
func (v *Vault) ApplyRiskAdjustment(volatilityBps uint64) bool {
	if v == nil {
		return false
	}
	if volatilityBps > VolatilityTriggerBps {
		v.RiskFactor = min(nativecommon.SaturatingAdd(v.RiskFactor, riskTightenStep), MaxRiskFactor)
		v.LiquidationPenalty = min(nativecommon.SaturatingAdd(v.LiquidationPenalty, penaltyStepBps), nativecommon.BasisPoints)
		return true
	}
	v.RiskFactor = max(nativecommon.SaturatingSub(v.RiskFactor, riskRelaxStep), MinRiskFactor)
	return false
}

// ValidateCollateral reports whether the collateral ratio meets minRatioBps.
// A vault without debt is always valid.
func (v *Vault) ValidateCollateral(minRatioBps uint64) bool {
	if v == nil || v.DebtAmount == 0 {
		return true
	}
	ratio := collateralRatio(v.CollateralAmount, v.DebtAmount)
	return ratio.Cmp(nativecommon.U128(minRatioBps)) >= 0
}

// UtilizationBps reports debt as a share of collateral, saturating for
// undercollateralised pools.
func (v *Vault) UtilizationBps() uint64 {
	if v == nil || v.CollateralAmount == 0 {
		return 0
	}
	return collateralRatio(v.DebtAmount, v.CollateralAmount).SaturatingUint64()
}

// IsSolvent reports whether collateral covers debt one-to-one.
func (v *Vault) IsSolvent() bool {
	if v == nil {
		return true
	}
	return v.CollateralAmount >= v.DebtAmount
}

// MaxRepay is the largest debt share a single liquidation may close.
func (v *Vault) MaxRepay() uint64 {
	if v == nil {
		return 0
	}
	return v.DebtAmount / closeFactorShare
}

func collateralRatio(numerator, denominator uint64) nativecommon.Uint128 {
	// numerator*10000 always fits in 128 bits and denominator is non-zero.
	scaled, _ := nativecommon.U128(numerator).MulU64(nativecommon.BasisPoints)
	ratio, _ := scaled.DivU64(denominator)
	return ratio
}
