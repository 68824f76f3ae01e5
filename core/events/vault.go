package events

import (
	"strconv"

	"fluxrisk/core/types"
	"fluxrisk/crypto"
)

const (
	TypeVaultCreated        = "vault.created"
	TypeInterestAccrued     = "vault.interest_accrued"
	TypeCollateralDeposited = "vault.collateral_deposited"
	TypeDebtBorrowed        = "vault.debt_borrowed"
	TypeDebtRepaid          = "vault.debt_repaid"
	TypeVaultLiquidated     = "vault.liquidated"
	TypeRiskAdjusted        = "vault.risk_adjusted"
	TypeRiskFactorUpdated   = "vault.risk_factor_updated"
	TypeVaultFrozen         = "vault.frozen"
	TypeVaultUnfrozen       = "vault.unfrozen"
)

type VaultCreated struct {
	Vault     crypto.Address
	Authority crypto.Address
	Timestamp int64
}

func (VaultCreated) EventType() string { return TypeVaultCreated }

func (e VaultCreated) Event() *types.Event {
	attrs := map[string]string{"vault": formatAddress(e.Vault), "timestamp": formatInt(e.Timestamp)}
	setIfPresent(attrs, "authority", formatAddress(e.Authority))
	return &types.Event{Type: TypeVaultCreated, Attributes: attrs}
}

// InterestAccrued reports a lazy accrual step. Interest is the exact wide
// amount added to the accumulator; DebtIncrease is the truncated amount added
// to the debt balance.
type InterestAccrued struct {
	Vault        crypto.Address
	Elapsed      int64
	Interest     string
	DebtIncrease uint64
	Debt         uint64
	Timestamp    int64
}

func (InterestAccrued) EventType() string { return TypeInterestAccrued }

func (e InterestAccrued) Event() *types.Event {
	interest := e.Interest
	if interest == "" {
		interest = "0"
	}
	return &types.Event{Type: TypeInterestAccrued, Attributes: map[string]string{
		"vault":        formatAddress(e.Vault),
		"elapsed":      formatInt(e.Elapsed),
		"interest":     interest,
		"debtIncrease": formatUint(e.DebtIncrease),
		"debt":         formatUint(e.Debt),
		"timestamp":    formatInt(e.Timestamp),
	}}
}

type CollateralDeposited struct {
	Vault          crypto.Address
	Amount         uint64
	Collateral     uint64
	UtilizationBps uint64
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{Type: TypeCollateralDeposited, Attributes: map[string]string{
		"vault":          formatAddress(e.Vault),
		"amount":         formatUint(e.Amount),
		"collateral":     formatUint(e.Collateral),
		"utilizationBps": formatUint(e.UtilizationBps),
	}}
}

type DebtBorrowed struct {
	Vault    crypto.Address
	Borrower crypto.Address
	Amount   uint64
	Debt     uint64
}

func (DebtBorrowed) EventType() string { return TypeDebtBorrowed }

func (e DebtBorrowed) Event() *types.Event {
	attrs := map[string]string{
		"vault":  formatAddress(e.Vault),
		"amount": formatUint(e.Amount),
		"debt":   formatUint(e.Debt),
	}
	setIfPresent(attrs, "borrower", formatAddress(e.Borrower))
	return &types.Event{Type: TypeDebtBorrowed, Attributes: attrs}
}

type DebtRepaid struct {
	Vault  crypto.Address
	Payer  crypto.Address
	Amount uint64
	Debt   uint64
}

func (DebtRepaid) EventType() string { return TypeDebtRepaid }

func (e DebtRepaid) Event() *types.Event {
	attrs := map[string]string{
		"vault":  formatAddress(e.Vault),
		"amount": formatUint(e.Amount),
		"debt":   formatUint(e.Debt),
	}
	setIfPresent(attrs, "payer", formatAddress(e.Payer))
	return &types.Event{Type: TypeDebtRepaid, Attributes: attrs}
}

type VaultLiquidated struct {
	Vault            crypto.Address
	Liquidator       crypto.Address
	HealthFactor     uint64
	Repaid           uint64
	CollateralSeized uint64
	SwapOutput       uint64
	Bonus            uint64
}

func (VaultLiquidated) EventType() string { return TypeVaultLiquidated }

func (e VaultLiquidated) Event() *types.Event {
	return &types.Event{Type: TypeVaultLiquidated, Attributes: map[string]string{
		"vault":            formatAddress(e.Vault),
		"liquidator":       formatAddress(e.Liquidator),
		"healthFactor":     formatUint(e.HealthFactor),
		"repaid":           formatUint(e.Repaid),
		"collateralSeized": formatUint(e.CollateralSeized),
		"swapOutput":       formatUint(e.SwapOutput),
		"bonus":            formatUint(e.Bonus),
	}}
}

type RiskAdjusted struct {
	Vault              crypto.Address
	VolatilityBps      uint64
	RiskFactor         uint64
	LiquidationPenalty uint64
	Tightened          bool
}

func (RiskAdjusted) EventType() string { return TypeRiskAdjusted }

func (e RiskAdjusted) Event() *types.Event {
	return &types.Event{Type: TypeRiskAdjusted, Attributes: map[string]string{
		"vault":              formatAddress(e.Vault),
		"volatilityBps":      formatUint(e.VolatilityBps),
		"riskFactor":         formatUint(e.RiskFactor),
		"liquidationPenalty": formatUint(e.LiquidationPenalty),
		"tightened":          strconv.FormatBool(e.Tightened),
	}}
}

type RiskFactorUpdated struct {
	Vault      crypto.Address
	Previous   uint64
	RiskFactor uint64
}

func (RiskFactorUpdated) EventType() string { return TypeRiskFactorUpdated }

func (e RiskFactorUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRiskFactorUpdated, Attributes: map[string]string{
		"vault":      formatAddress(e.Vault),
		"previous":   formatUint(e.Previous),
		"riskFactor": formatUint(e.RiskFactor),
	}}
}

// VaultFreezeToggled is emitted when the emergency flag changes.
type VaultFreezeToggled struct {
	Vault  crypto.Address
	Frozen bool
}

func (e VaultFreezeToggled) EventType() string {
	if e.Frozen {
		return TypeVaultFrozen
	}
	return TypeVaultUnfrozen
}

func (e VaultFreezeToggled) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"vault": formatAddress(e.Vault),
	}}
}
