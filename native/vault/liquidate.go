package vault

import (
	"context"
	"fmt"
	"log/slog"

	"fluxrisk/core/events"
	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
)

// LiquidationRequest carries the caller-supplied inputs of a liquidation.
// Prices must share the same decimal precision. The threshold and the
// post-liquidation volatility always come from the engine parameters.
type LiquidationRequest struct {
	Vault           crypto.Address
	Liquidator      crypto.Address
	CollateralPrice uint64
	DebtPrice       uint64
}

// LiquidationResult reports the committed outcome of a liquidation.
type LiquidationResult struct {
	HealthFactor     uint64
	Repaid           uint64
	CollateralSeized uint64
	SwapOutput       uint64
	Bonus            uint64
	RiskTightened    bool
	Vault            *Vault
}

// Liquidate closes up to half of an unhealthy vault's debt. The sequence is
// frozen check, accrual, health check, sizing, swap, settlement and risk
// adjustment on a working copy. The copy is persisted before the bonus is
// delivered; a failed write pays nothing and a failed bonus transfer writes
// the previous vault back, accrual included.
func (e *Engine) Liquidate(ctx context.Context, req LiquidationRequest) (*LiquidationResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.swapper == nil {
		return nil, errNilSwapper
	}
	threshold := e.params.LiquidationThresholdBps
	volatility := e.params.AssumedVolatilityBps

	var result LiquidationResult
	err := e.mutate(req.Vault, func(tx *txn) error {
		if err := tx.accrue(e.params.Interest); err != nil {
			return err
		}
		v := tx.vault
		hf, err := v.CalculateHealthFactor(req.CollateralPrice, req.DebtPrice)
		if err != nil {
			return err
		}
		if hf >= threshold {
			return nativecommon.ErrVaultHealthy
		}
		result.HealthFactor = hf

		maxRepay := v.MaxRepay()
		bonus, err := nativecommon.MulDiv(maxRepay, v.LiquidationBonus, nativecommon.BasisPoints)
		if err != nil {
			return err
		}
		if bonus > 0 && e.transfers == nil {
			return errNilTransferer
		}

		e.logger.Info("liquidation started",
			slog.String("vault", v.Address.String()),
			slog.Uint64("health_factor", hf),
			slog.Uint64("max_repay", maxRepay))

		if maxRepay > 0 {
			out, err := e.swapper.Swap(ctx, SwapRequest{
				InputAsset:     v.CollateralAsset,
				OutputAsset:    v.DebtAsset,
				AmountIn:       maxRepay,
				MaxSlippageBps: e.params.SwapSlippageBps,
			})
			if err != nil {
				return fmt.Errorf("vault engine: liquidation swap: %w", err)
			}
			result.SwapOutput = out
		}

		result.CollateralSeized = min(maxRepay, v.CollateralAmount)
		v.DebtAmount = nativecommon.SaturatingSub(v.DebtAmount, maxRepay)
		v.CollateralAmount = nativecommon.SaturatingSub(v.CollateralAmount, maxRepay)
		result.Repaid = maxRepay

		result.Bonus = bonus
		result.RiskTightened = v.ApplyRiskAdjustment(volatility)
		if bonus > 0 {
			tx.settle = func() error {
				if err := e.transfers.Transfer(ctx, v.Address, req.Liquidator, bonus); err != nil {
					return fmt.Errorf("vault engine: liquidation bonus: %w", err)
				}
				return nil
			}
		}
		return nil
	}, func(v *Vault) {
		result.Vault = v.Clone()
		e.emitter.Emit(events.VaultLiquidated{
			Vault:            v.Address,
			Liquidator:       req.Liquidator,
			HealthFactor:     result.HealthFactor,
			Repaid:           result.Repaid,
			CollateralSeized: result.CollateralSeized,
			SwapOutput:       result.SwapOutput,
			Bonus:            result.Bonus,
		})
		e.emitRiskAdjusted(v, volatility, result.RiskTightened)
		e.logger.Info("liquidation complete",
			slog.String("vault", v.Address.String()),
			slog.Uint64("repaid", result.Repaid),
			slog.Uint64("bonus", result.Bonus),
			slog.Uint64("risk_factor", v.RiskFactor))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
