package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fluxrisk/core/events"
	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
)

var (
	errNilState         = errors.New("vault engine: state not configured")
	errNilSwapper       = errors.New("vault engine: swap collaborator not configured")
	errNilTransferer    = errors.New("vault engine: funds transfer collaborator not configured")
	errVaultExists      = errors.New("vault engine: vault already exists")
	errMissingName      = errors.New("vault engine: vault name required")
	errMissingAuthority = errors.New("vault engine: authority required")
	errMissingAssets    = errors.New("vault engine: collateral and debt assets required")
)

const moduleName = "vault"

type engineState interface {
	GetVault(addr crypto.Address) (*Vault, error)
	PutVault(v *Vault) error
}

type vaultIndex interface {
	VaultAddresses() ([]crypto.Address, error)
}

// Engine orchestrates the state transitions for collateral vaults. Every
// mutating call accrues interest before reading or changing debt and
// serialises writers per vault.
type Engine struct {
	state     engineState
	params    Params
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	logger    *slog.Logger
	clock     nativecommon.Clock
	swapper   Swapper
	transfers FundsTransferer
	locks     nativecommon.KeyedLocks[crypto.Address]
}

// NewEngine constructs a vault engine using the supplied parameters.
func NewEngine(params Params) *Engine {
	params.EnsureDefaults()
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		clock:   nativecommon.SystemClock,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event sink. Nil restores the no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetClock overrides the timestamp source.
func (e *Engine) SetClock(clock nativecommon.Clock) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetSwapper wires the liquidation swap collaborator.
func (e *Engine) SetSwapper(s Swapper) {
	if e == nil {
		return
	}
	e.swapper = s
}

// SetFundsTransferer wires the collaborator delivering liquidation bonuses.
func (e *Engine) SetFundsTransferer(t FundsTransferer) {
	if e == nil {
		return
	}
	e.transfers = t
}

// Params returns the active parameter set.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// CreateRequest names a new vault and the assets it tracks.
type CreateRequest struct {
	Name            string
	Authority       crypto.Address
	CollateralAsset string
	DebtAsset       string
}

// CreateVault initialises a vault with zero balances and the default risk
// parameters.
func (e *Engine) CreateVault(req CreateRequest) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errMissingName
	}
	if req.Authority.IsZero() {
		return nil, errMissingAuthority
	}
	collateralAsset := strings.ToUpper(strings.TrimSpace(req.CollateralAsset))
	debtAsset := strings.ToUpper(strings.TrimSpace(req.DebtAsset))
	if collateralAsset == "" || debtAsset == "" {
		return nil, errMissingAssets
	}

	addr := VaultAddress(name)
	unlock := e.locks.Lock(addr)
	defer unlock()

	existing, err := e.state.GetVault(addr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errVaultExists
	}

	now := e.clock.Now()
	defaults := e.params.Defaults
	v := &Vault{
		Address:              addr,
		Authority:            req.Authority,
		CollateralAsset:      collateralAsset,
		DebtAsset:            debtAsset,
		LastUpdateTime:       now,
		RiskFactor:           defaults.RiskFactor,
		CollateralRatioFloor: defaults.CollateralRatioFloor,
		PerformanceFeeRate:   defaults.PerformanceFeeRate,
		ManagementFeeRate:    defaults.ManagementFeeRate,
		FlashLoanFeeRate:     defaults.FlashLoanFeeRate,
		LiquidationPenalty:   defaults.LiquidationPenalty,
		LiquidationBonus:     defaults.LiquidationBonus,
		LastFeeCollection:    now,
	}
	if err := e.state.PutVault(v); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.VaultCreated{Vault: addr, Authority: req.Authority, Timestamp: now})
	e.logger.Info("vault created",
		slog.String("vault", addr.String()),
		slog.String("collateral_asset", collateralAsset),
		slog.String("debt_asset", debtAsset))
	return v.Clone(), nil
}

// Vault returns a snapshot of the persisted vault.
func (e *Engine) Vault(addr crypto.Address) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	v, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// Vaults lists every persisted vault in creation order. The state backend
// must maintain an index.
func (e *Engine) Vaults() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	index, ok := e.state.(vaultIndex)
	if !ok {
		return nil, errors.New("vault engine: state does not index vaults")
	}
	return index.VaultAddresses()
}

// HealthReport is the read-only view returned by Health.
type HealthReport struct {
	HealthFactor    uint64
	Liquidatable    bool
	Solvent         bool
	CollateralRatio bool
	PendingInterest uint64
	Vault           *Vault
}

// Health evaluates the vault at the current time without persisting the
// accrual it performs on its working copy.
func (e *Engine) Health(addr crypto.Address, collateralPrice, debtPrice uint64) (*HealthReport, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stored, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	working := stored.Clone()
	accrual, err := working.AccrueInterest(e.clock.Now(), e.params.Interest)
	if err != nil {
		return nil, err
	}
	hf, err := working.CalculateHealthFactor(collateralPrice, debtPrice)
	if err != nil {
		return nil, err
	}
	return &HealthReport{
		HealthFactor:    hf,
		Liquidatable:    hf < e.params.LiquidationThresholdBps,
		Solvent:         working.IsSolvent(),
		CollateralRatio: working.ValidateCollateral(working.CollateralRatioFloor),
		PendingInterest: accrual.DebtIncrease,
		Vault:           working,
	}, nil
}

// AccrueInterest brings the vault's debt up to the current time.
func (e *Engine) AccrueInterest(addr crypto.Address) (Accrual, error) {
	var accrual Accrual
	err := e.mutate(addr, func(tx *txn) error {
		if err := tx.accrue(e.params.Interest); err != nil {
			return err
		}
		accrual = tx.accrual
		return nil
	})
	return accrual, err
}

// DepositResult summarises a collateral deposit.
type DepositResult struct {
	Collateral     uint64
	UtilizationBps uint64
}

// Deposit adds collateral to the vault.
func (e *Engine) Deposit(addr crypto.Address, amount uint64) (*DepositResult, error) {
	if amount == 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	var result DepositResult
	err := e.mutate(addr, func(tx *txn) error {
		if err := tx.accrue(e.params.Interest); err != nil {
			return err
		}
		v := tx.vault
		collateral, err := nativecommon.CheckedAdd(v.CollateralAmount, amount)
		if err != nil {
			return err
		}
		v.CollateralAmount = collateral
		result = DepositResult{Collateral: collateral, UtilizationBps: v.UtilizationBps()}
		return nil
	}, func(v *Vault) {
		e.emitter.Emit(events.CollateralDeposited{
			Vault:          v.Address,
			Amount:         amount,
			Collateral:     result.Collateral,
			UtilizationBps: result.UtilizationBps,
		})
		e.logger.Info("collateral deposited",
			slog.String("vault", v.Address.String()),
			slog.Uint64("amount", amount),
			slog.Uint64("utilization_bps", result.UtilizationBps))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Borrow increases the vault's debt provided the resulting position still
// meets the vault's collateral ratio floor.
func (e *Engine) Borrow(addr, borrower crypto.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nativecommon.ErrInvalidAmount
	}
	var debt uint64
	err := e.mutate(addr, func(tx *txn) error {
		if err := tx.accrue(e.params.Interest); err != nil {
			return err
		}
		v := tx.vault
		next, err := nativecommon.CheckedAdd(v.DebtAmount, amount)
		if err != nil {
			return err
		}
		candidate := v.Clone()
		candidate.DebtAmount = next
		if !candidate.ValidateCollateral(v.CollateralRatioFloor) {
			return fmt.Errorf("vault engine: borrow breaches collateral floor %d bps: %w",
				v.CollateralRatioFloor, nativecommon.ErrInsufficientLiquidity)
		}
		v.DebtAmount = next
		debt = next
		return nil
	}, func(v *Vault) {
		e.emitter.Emit(events.DebtBorrowed{Vault: v.Address, Borrower: borrower, Amount: amount, Debt: debt})
	})
	return debt, err
}

// Repay reduces the vault's debt by up to amount and returns the amount
// actually applied.
func (e *Engine) Repay(addr, payer crypto.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nativecommon.ErrInvalidAmount
	}
	var repaid uint64
	var debt uint64
	err := e.mutate(addr, func(tx *txn) error {
		if err := tx.accrue(e.params.Interest); err != nil {
			return err
		}
		v := tx.vault
		if v.DebtAmount == 0 {
			return fmt.Errorf("vault engine: no outstanding debt to repay: %w", nativecommon.ErrInvalidAmount)
		}
		repaid = min(amount, v.DebtAmount)
		v.DebtAmount -= repaid
		debt = v.DebtAmount
		return nil
	}, func(v *Vault) {
		e.emitter.Emit(events.DebtRepaid{Vault: v.Address, Payer: payer, Amount: repaid, Debt: debt})
	})
	return repaid, err
}

// AdjustRisk feeds an observed volatility signal into the vault's risk
// control loop. Only the vault authority may call it.
func (e *Engine) AdjustRisk(caller, addr crypto.Address, volatilityBps uint64) (*Vault, error) {
	var snapshot *Vault
	var tightened bool
	err := e.mutateAuthorized(caller, addr, false, func(tx *txn) error {
		if err := tx.accrue(e.params.Interest); err != nil {
			return err
		}
		tightened = tx.vault.ApplyRiskAdjustment(volatilityBps)
		snapshot = tx.vault.Clone()
		return nil
	}, func(v *Vault) {
		e.emitRiskAdjusted(v, volatilityBps, tightened)
	})
	return snapshot, err
}

// UpdateRiskFactor overrides the risk factor. Only the vault authority may
// call it and the value must lie within [MinRiskFactor, MaxRiskFactor].
func (e *Engine) UpdateRiskFactor(caller, addr crypto.Address, riskFactor uint64) (*Vault, error) {
	if riskFactor < MinRiskFactor || riskFactor > MaxRiskFactor {
		return nil, nativecommon.ErrInvalidRiskFactor
	}
	var snapshot *Vault
	var previous uint64
	err := e.mutateAuthorized(caller, addr, false, func(tx *txn) error {
		if err := tx.accrue(e.params.Interest); err != nil {
			return err
		}
		previous = tx.vault.RiskFactor
		tx.vault.RiskFactor = riskFactor
		snapshot = tx.vault.Clone()
		return nil
	}, func(v *Vault) {
		e.emitter.Emit(events.RiskFactorUpdated{Vault: v.Address, Previous: previous, RiskFactor: riskFactor})
	})
	return snapshot, err
}

// Freeze engages the emergency stop.
func (e *Engine) Freeze(caller, addr crypto.Address) error {
	return e.setFrozen(caller, addr, true)
}

// Unfreeze reactivates a frozen vault.
func (e *Engine) Unfreeze(caller, addr crypto.Address) error {
	return e.setFrozen(caller, addr, false)
}

func (e *Engine) setFrozen(caller, addr crypto.Address, frozen bool) error {
	return e.mutateAuthorized(caller, addr, true, func(tx *txn) error {
		tx.vault.Frozen = frozen
		return nil
	}, func(v *Vault) {
		e.emitter.Emit(events.VaultFreezeToggled{Vault: v.Address, Frozen: frozen})
		e.logger.Warn("vault freeze toggled",
			slog.String("vault", v.Address.String()),
			slog.Bool("frozen", frozen))
	})
}

func (e *Engine) load(addr crypto.Address) (*Vault, error) {
	v, err := e.state.GetVault(addr)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("vault engine: vault %s: %w", addr, nativecommon.ErrNotFound)
	}
	return v, nil
}

// txn is the working copy handed to a mutation. Nothing reaches the state
// layer unless the mutation returns nil. settle, when set, runs after the
// copy is persisted; if it fails the previous vault is written back.
type txn struct {
	vault   *Vault
	now     int64
	accrual Accrual
	accrued bool
	settle  func() error
}

func (tx *txn) accrue(rate InterestRate) error {
	if tx.accrued {
		return nil
	}
	accrual, err := tx.vault.AccrueInterest(tx.now, rate)
	if err != nil {
		return err
	}
	tx.accrual = accrual
	tx.accrued = true
	return nil
}

// mutate runs fn against a working copy and persists it only when fn
// succeeds. after callbacks run once the copy has been persisted.
func (e *Engine) mutate(addr crypto.Address, fn func(tx *txn) error, after ...func(v *Vault)) error {
	return e.run(addr, nil, false, fn, after...)
}

func (e *Engine) mutateAuthorized(caller, addr crypto.Address, allowFrozen bool, fn func(tx *txn) error, after ...func(v *Vault)) error {
	return e.run(addr, &caller, allowFrozen, fn, after...)
}

func (e *Engine) run(addr crypto.Address, caller *crypto.Address, allowFrozen bool, fn func(tx *txn) error, after ...func(v *Vault)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.locks.Lock(addr)
	defer unlock()

	stored, err := e.load(addr)
	if err != nil {
		return err
	}
	if caller != nil && !stored.Authority.Equal(*caller) {
		return nativecommon.ErrUnauthorized
	}
	if stored.Frozen && !allowFrozen {
		return nativecommon.ErrVaultFrozen
	}
	tx := &txn{vault: stored.Clone(), now: e.clock.Now()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := e.state.PutVault(tx.vault); err != nil {
		return err
	}
	if tx.settle != nil {
		if err := tx.settle(); err != nil {
			if restoreErr := e.state.PutVault(stored); restoreErr != nil {
				e.logger.Error("vault restore failed after settlement error",
					slog.String("vault", addr.String()),
					slog.Any("settle_error", err),
					slog.Any("error", restoreErr))
				return errors.Join(err, restoreErr)
			}
			return err
		}
	}
	e.emitAccrual(tx)
	for _, cb := range after {
		cb(tx.vault)
	}
	return nil
}

func (e *Engine) emitAccrual(tx *txn) {
	if tx.accrual.Elapsed == 0 {
		return
	}
	e.emitter.Emit(events.InterestAccrued{
		Vault:        tx.vault.Address,
		Elapsed:      tx.accrual.Elapsed,
		Interest:     tx.accrual.Interest.String(),
		DebtIncrease: tx.accrual.DebtIncrease,
		Debt:         tx.vault.DebtAmount,
		Timestamp:    tx.now,
	})
	e.logger.Debug("interest accrued",
		slog.String("vault", tx.vault.Address.String()),
		slog.String("interest", tx.accrual.Interest.String()),
		slog.Int64("elapsed_seconds", tx.accrual.Elapsed))
}

func (e *Engine) emitRiskAdjusted(v *Vault, volatilityBps uint64, tightened bool) {
	e.emitter.Emit(events.RiskAdjusted{
		Vault:              v.Address,
		VolatilityBps:      volatilityBps,
		RiskFactor:         v.RiskFactor,
		LiquidationPenalty: v.LiquidationPenalty,
		Tightened:          tightened,
	})
	if tightened {
		e.logger.Warn("vault risk tightened",
			slog.String("vault", v.Address.String()),
			slog.Uint64("risk_factor", v.RiskFactor),
			slog.Uint64("liquidation_penalty", v.LiquidationPenalty))
	}
}
