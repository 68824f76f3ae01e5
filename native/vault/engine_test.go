package vault

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"fluxrisk/core/events"
	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
)

type mockEngineState struct {
	mu     sync.Mutex
	vaults map[crypto.Address]*Vault
	puts   int
	putErr error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{vaults: make(map[crypto.Address]*Vault)}
}

func (m *mockEngineState) GetVault(addr crypto.Address) (*Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vaults[addr]; ok {
		return v.Clone(), nil
	}
	return nil, nil
}

func (m *mockEngineState) PutVault(v *Vault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.vaults[v.Address] = v.Clone()
	m.puts++
	return nil
}

func (m *mockEngineState) stored(addr crypto.Address) *Vault {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vaults[addr].Clone()
}

type stubSwapper struct {
	calls []SwapRequest
	out   uint64
	err   error
}

func (s *stubSwapper) Swap(_ context.Context, req SwapRequest) (uint64, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return 0, s.err
	}
	if s.out != 0 {
		return s.out, nil
	}
	return req.AmountIn, nil
}

type transferCall struct {
	from, to crypto.Address
	amount   uint64
}

type stubTransferer struct {
	calls []transferCall
	err   error
}

func (s *stubTransferer) Transfer(_ context.Context, from, to crypto.Address, amount uint64) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, transferCall{from: from, to: to, amount: amount})
	return nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type fixture struct {
	engine    *Engine
	state     *mockEngineState
	swapper   *stubSwapper
	transfers *stubTransferer
	emitter   *captureEmitter
	now       int64
	authority crypto.Address
	vault     crypto.Address
}

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = b
	return crypto.MustNewAddress(prefix, raw)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:     newMockEngineState(),
		swapper:   &stubSwapper{},
		transfers: &stubTransferer{},
		emitter:   &captureEmitter{},
		now:       1_700_000_000,
		authority: makeAddress(crypto.UserPrefix, 0x01),
	}
	f.engine = NewEngine(DefaultParams())
	f.engine.SetState(f.state)
	f.engine.SetSwapper(f.swapper)
	f.engine.SetFundsTransferer(f.transfers)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetClock(nativecommon.ClockFunc(func() int64 { return f.now }))

	v, err := f.engine.CreateVault(CreateRequest{
		Name:            "sol-usdc",
		Authority:       f.authority,
		CollateralAsset: "sol",
		DebtAsset:       "usdc",
	})
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	f.vault = v.Address
	return f
}

// seed overwrites the stored balances of the fixture vault.
func (f *fixture) seed(collateral, debt uint64) {
	v := f.state.stored(f.vault)
	v.CollateralAmount = collateral
	v.DebtAmount = debt
	_ = f.state.PutVault(v)
}

func TestCreateVaultAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	v, err := f.engine.Vault(f.vault)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	defaults := DefaultParams().Defaults
	if v.RiskFactor != defaults.RiskFactor || v.LiquidationBonus != defaults.LiquidationBonus {
		t.Fatalf("defaults not applied: %+v", v)
	}
	if v.CollateralAmount != 0 || v.DebtAmount != 0 || v.Frozen {
		t.Fatalf("unexpected initial balances: %+v", v)
	}
	if v.CollateralAsset != "SOL" || v.DebtAsset != "USDC" {
		t.Fatalf("assets not normalised: %s/%s", v.CollateralAsset, v.DebtAsset)
	}
	if _, err := f.engine.CreateVault(CreateRequest{Name: "sol-usdc", Authority: f.authority, CollateralAsset: "SOL", DebtAsset: "USDC"}); err == nil {
		t.Fatalf("expected duplicate vault to be rejected")
	}
}

func TestVaultNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Vault(VaultAddress("missing")); !errors.Is(err, nativecommon.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDepositAccruesBeforeMutating(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 2_000_000_000)
	f.now += 100

	result, err := f.engine.Deposit(f.vault, 500)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if result.Collateral != 1_500 {
		t.Fatalf("unexpected collateral: %d", result.Collateral)
	}
	stored := f.state.stored(f.vault)
	if stored.DebtAmount != 2_000_001_000 {
		t.Fatalf("deposit skipped accrual: debt %d", stored.DebtAmount)
	}
	if stored.LastUpdateTime != f.now {
		t.Fatalf("timestamp not advanced: %d", stored.LastUpdateTime)
	}
	got := f.emitter.types()
	if len(got) < 2 || got[len(got)-2] != events.TypeInterestAccrued || got[len(got)-1] != events.TypeCollateralDeposited {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Deposit(f.vault, 0); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDepositOverflowRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(^uint64(0), 0)
	if _, err := f.engine.Deposit(f.vault, 1); !errors.Is(err, nativecommon.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if f.state.stored(f.vault).CollateralAmount != ^uint64(0) {
		t.Fatalf("collateral mutated on overflow")
	}
}

func TestBorrowRespectsCollateralFloor(t *testing.T) {
	f := newFixture(t)
	f.seed(1_500, 0)
	borrower := makeAddress(crypto.UserPrefix, 0x33)

	debt, err := f.engine.Borrow(f.vault, borrower, 1_000)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if debt != 1_000 {
		t.Fatalf("unexpected debt: %d", debt)
	}
	if _, err := f.engine.Borrow(f.vault, borrower, 1); !errors.Is(err, nativecommon.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if f.state.stored(f.vault).DebtAmount != 1_000 {
		t.Fatalf("rejected borrow mutated debt")
	}
}

func TestRepayCapsAtOutstandingDebt(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 300)
	payer := makeAddress(crypto.UserPrefix, 0x44)

	repaid, err := f.engine.Repay(f.vault, payer, 500)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid != 300 || f.state.stored(f.vault).DebtAmount != 0 {
		t.Fatalf("unexpected repay outcome: repaid=%d", repaid)
	}
	if _, err := f.engine.Repay(f.vault, payer, 1); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount on empty debt, got %v", err)
	}
}

func TestLiquidateSettlesHalfTheDebt(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 900)
	liquidator := makeAddress(crypto.UserPrefix, 0x55)

	result, err := f.engine.Liquidate(context.Background(), LiquidationRequest{
		Vault:           f.vault,
		Liquidator:      liquidator,
		CollateralPrice: 1_000_000,
		DebtPrice:       1_000_000,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// weighted = 1000*1e6*7900/10000 = 790e6, debt value = 900e6
	if result.HealthFactor != 8_777 {
		t.Fatalf("unexpected health factor: %d", result.HealthFactor)
	}
	if result.Repaid != 450 || result.CollateralSeized != 450 {
		t.Fatalf("unexpected settlement: %+v", result)
	}
	if result.Bonus != 22 {
		t.Fatalf("unexpected bonus: %d", result.Bonus)
	}

	stored := f.state.stored(f.vault)
	if stored.DebtAmount != 450 || stored.CollateralAmount != 550 {
		t.Fatalf("unexpected balances: debt=%d collateral=%d", stored.DebtAmount, stored.CollateralAmount)
	}
	if stored.RiskFactor != 200 || stored.LiquidationPenalty != 1_000 {
		t.Fatalf("risk adjustment not applied: rf=%d penalty=%d", stored.RiskFactor, stored.LiquidationPenalty)
	}

	if len(f.swapper.calls) != 1 {
		t.Fatalf("expected one swap, got %d", len(f.swapper.calls))
	}
	swap := f.swapper.calls[0]
	if swap.InputAsset != "SOL" || swap.OutputAsset != "USDC" || swap.AmountIn != 450 || swap.MaxSlippageBps != DefaultSwapSlippageBps {
		t.Fatalf("unexpected swap request: %+v", swap)
	}
	if len(f.transfers.calls) != 1 || f.transfers.calls[0].to != liquidator || f.transfers.calls[0].amount != 22 {
		t.Fatalf("unexpected bonus transfer: %+v", f.transfers.calls)
	}
}

func TestLiquidateNeverExceedsHalfDebtOrGoesNegative(t *testing.T) {
	cases := []struct{ collateral, debt uint64 }{
		{collateral: 1, debt: 1_000},
		{collateral: 0, debt: 7},
		{collateral: 100, debt: 101},
		{collateral: 10, debt: 1},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.seed(tc.collateral, tc.debt)
		result, err := f.engine.Liquidate(context.Background(), LiquidationRequest{
			Vault:           f.vault,
			Liquidator:      makeAddress(crypto.UserPrefix, 0x66),
			CollateralPrice: 1,
			DebtPrice:       1_000,
		})
		if err != nil {
			t.Fatalf("liquidate(%d/%d): %v", tc.collateral, tc.debt, err)
		}
		if result.Repaid > tc.debt/2 {
			t.Fatalf("repaid %d exceeds half of %d", result.Repaid, tc.debt)
		}
		stored := f.state.stored(f.vault)
		if stored.DebtAmount != tc.debt-result.Repaid {
			t.Fatalf("unexpected remaining debt %d", stored.DebtAmount)
		}
		if stored.CollateralAmount > tc.collateral {
			t.Fatalf("collateral increased: %d", stored.CollateralAmount)
		}
	}
}

func TestLiquidateSwapFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 900_000_000)
	f.now += 3_600
	before := f.state.stored(f.vault)
	puts := f.state.puts
	f.swapper.err = errors.New("route unavailable")

	_, err := f.engine.Liquidate(context.Background(), LiquidationRequest{
		Vault:           f.vault,
		Liquidator:      makeAddress(crypto.UserPrefix, 0x77),
		CollateralPrice: 1,
		DebtPrice:       1,
	})
	if err == nil || !errors.Is(err, f.swapper.err) {
		t.Fatalf("expected swap error, got %v", err)
	}
	if f.state.puts != puts {
		t.Fatalf("state written on failed liquidation")
	}
	if after := f.state.stored(f.vault); !reflect.DeepEqual(before, after) {
		t.Fatalf("vault mutated on swap failure:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(f.transfers.calls) != 0 {
		t.Fatalf("bonus delivered despite swap failure")
	}
}

func TestLiquidateBonusFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 900)
	before := f.state.stored(f.vault)
	f.transfers.err = errors.New("custody offline")

	if _, err := f.engine.Liquidate(context.Background(), LiquidationRequest{
		Vault:           f.vault,
		Liquidator:      makeAddress(crypto.UserPrefix, 0x78),
		CollateralPrice: 1,
		DebtPrice:       1,
	}); !errors.Is(err, f.transfers.err) {
		t.Fatalf("expected transfer error, got %v", err)
	}
	if after := f.state.stored(f.vault); !reflect.DeepEqual(before, after) {
		t.Fatalf("vault mutated on bonus failure")
	}
}

func TestLiquidateWriteFailurePaysNoBonus(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 900)
	before := f.state.stored(f.vault)
	f.state.putErr = errors.New("disk full")

	if _, err := f.engine.Liquidate(context.Background(), LiquidationRequest{
		Vault:           f.vault,
		Liquidator:      makeAddress(crypto.UserPrefix, 0x79),
		CollateralPrice: 1,
		DebtPrice:       1,
	}); !errors.Is(err, f.state.putErr) {
		t.Fatalf("expected write error, got %v", err)
	}
	if len(f.transfers.calls) != 0 {
		t.Fatalf("bonus delivered although the vault was not persisted: %+v", f.transfers.calls)
	}
	f.state.putErr = nil
	if !reflect.DeepEqual(before, f.state.stored(f.vault)) {
		t.Fatalf("vault mutated on write failure")
	}
}

func TestLiquidateRejectsFrozenVault(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 900)
	if err := f.engine.Freeze(f.authority, f.vault); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	_, err := f.engine.Liquidate(context.Background(), LiquidationRequest{Vault: f.vault, CollateralPrice: 1, DebtPrice: 1})
	if !errors.Is(err, nativecommon.ErrVaultFrozen) {
		t.Fatalf("expected ErrVaultFrozen, got %v", err)
	}
	if len(f.swapper.calls) != 0 {
		t.Fatalf("swap invoked on frozen vault")
	}
	if _, err := f.engine.Deposit(f.vault, 1); !errors.Is(err, nativecommon.ErrVaultFrozen) {
		t.Fatalf("expected deposit to be rejected, got %v", err)
	}
	if err := f.engine.Unfreeze(f.authority, f.vault); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := f.engine.Deposit(f.vault, 1); err != nil {
		t.Fatalf("deposit after unfreeze: %v", err)
	}
}

func TestLiquidateRejectsHealthyVault(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 900)
	before := f.state.stored(f.vault)
	_, err := f.engine.Liquidate(context.Background(), LiquidationRequest{
		Vault:           f.vault,
		CollateralPrice: 150_000_000,
		DebtPrice:       1_000_000,
	})
	if !errors.Is(err, nativecommon.ErrVaultHealthy) {
		t.Fatalf("expected ErrVaultHealthy, got %v", err)
	}
	if !reflect.DeepEqual(before, f.state.stored(f.vault)) {
		t.Fatalf("healthy rejection mutated vault")
	}
}

func TestHealthDoesNotPersistAccrual(t *testing.T) {
	f := newFixture(t)
	f.seed(1_000, 900)
	f.now += 1_000_000
	report, err := f.engine.Health(f.vault, 150_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Liquidatable {
		t.Fatalf("expected healthy report")
	}
	if report.Vault.LastUpdateTime != f.now {
		t.Fatalf("report should reflect current accrual")
	}
	if f.state.stored(f.vault).LastUpdateTime == f.now {
		t.Fatalf("health check persisted accrual")
	}
}

func TestAdminOperationsRequireAuthority(t *testing.T) {
	f := newFixture(t)
	intruder := makeAddress(crypto.UserPrefix, 0x99)

	if _, err := f.engine.UpdateRiskFactor(intruder, f.vault, 300); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.Freeze(intruder, f.vault); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.UpdateRiskFactor(f.authority, f.vault, 99); !errors.Is(err, nativecommon.ErrInvalidRiskFactor) {
		t.Fatalf("expected ErrInvalidRiskFactor, got %v", err)
	}
	v, err := f.engine.UpdateRiskFactor(f.authority, f.vault, 300)
	if err != nil {
		t.Fatalf("update risk factor: %v", err)
	}
	if v.RiskFactor != 300 {
		t.Fatalf("risk factor not updated: %d", v.RiskFactor)
	}
}

func TestAdjustRiskRelaxesTowardsFloor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.UpdateRiskFactor(f.authority, f.vault, 105); err != nil {
		t.Fatalf("update risk factor: %v", err)
	}
	v, err := f.engine.AdjustRisk(f.authority, f.vault, 100)
	if err != nil {
		t.Fatalf("adjust risk: %v", err)
	}
	if v.RiskFactor != MinRiskFactor {
		t.Fatalf("expected floor, got %d", v.RiskFactor)
	}
}

func TestAdjustRiskRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	before := f.state.stored(f.vault)
	intruder := makeAddress(crypto.UserPrefix, 0x9A)
	if _, err := f.engine.AdjustRisk(intruder, f.vault, 100); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !reflect.DeepEqual(before, f.state.stored(f.vault)) {
		t.Fatalf("unauthorised adjustment mutated vault")
	}
}

func TestGuardBlocksMutation(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPauses(nativecommon.Pauses{moduleName: true})
	if _, err := f.engine.Deposit(f.vault, 10); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := f.engine.Liquidate(context.Background(), LiquidationRequest{Vault: f.vault, CollateralPrice: 1, DebtPrice: 1}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := f.engine.Vault(f.vault); err != nil {
		t.Fatalf("reads must stay available while paused: %v", err)
	}
}

func TestConcurrentDepositsSerialise(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Deposit(f.vault, 10); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.state.stored(f.vault).CollateralAmount; got != 320 {
		t.Fatalf("lost update: collateral %d", got)
	}
}
