package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/compliance"
	"fluxrisk/native/oracle"
	"fluxrisk/native/vault"
)

type createVaultRequest struct {
	Name            string         `json:"name"`
	Authority       crypto.Address `json:"authority"`
	CollateralAsset string         `json:"collateralAsset"`
	DebtAsset       string         `json:"debtAsset"`
}

type amountRequest struct {
	User   crypto.Address `json:"user"`
	Amount uint64         `json:"amount"`
}

type liquidateRequest struct {
	Liquidator crypto.Address `json:"liquidator"`
}

type riskFactorRequest struct {
	RiskFactor uint64 `json:"riskFactor"`
}

type riskAdjustRequest struct {
	VolatilityBps uint64 `json:"volatilityBps"`
}

type healthResponse struct {
	HealthFactor    uint64       `json:"healthFactor"`
	Liquidatable    bool         `json:"liquidatable"`
	Solvent         bool         `json:"solvent"`
	CollateralRatio bool         `json:"meetsCollateralFloor"`
	PendingInterest uint64       `json:"pendingInterest"`
	CollateralPrice uint64       `json:"collateralPrice"`
	DebtPrice       uint64       `json:"debtPrice"`
	Vault           *vault.Vault `json:"vault"`
}

type operationResponse struct {
	Vault          *vault.Vault `json:"vault"`
	Amount         uint64       `json:"amount"`
	Debt           uint64       `json:"debt,omitempty"`
	UtilizationBps uint64       `json:"utilizationBps,omitempty"`
	Profile        *profileView `json:"profile,omitempty"`
}

type liquidationResponse struct {
	HealthFactor     uint64       `json:"healthFactor"`
	Repaid           uint64       `json:"repaid"`
	CollateralSeized uint64       `json:"collateralSeized"`
	SwapOutput       uint64       `json:"swapOutput"`
	Bonus            uint64       `json:"bonus"`
	RiskTightened    bool         `json:"riskTightened"`
	Vault            *vault.Vault `json:"vault"`
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Authority.IsZero() {
		caller, err := callerFromContext(r.Context())
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid_request", "authority required")
			return
		}
		req.Authority = caller
	}
	v, err := s.vaults.CreateVault(vault.CreateRequest{
		Name:            req.Name,
		Authority:       req.Authority,
		CollateralAsset: req.CollateralAsset,
		DebtAsset:       req.DebtAsset,
	})
	s.metrics.RecordOperation("create", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	addrs, err := s.vaults.Vaults()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"vaults": out})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	addr, ok := vaultParam(w, r)
	if !ok {
		return
	}
	v, err := s.vaults.Vault(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVaultHealth(w http.ResponseWriter, r *http.Request) {
	addr, ok := vaultParam(w, r)
	if !ok {
		return
	}
	v, err := s.vaults.Vault(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	collateralPrice, debtPrice, err := s.pricePair(r.Context(), v)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.vaults.Health(addr, collateralPrice, debtPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.ObserveHealth(addr.String(), report.HealthFactor)
	writeJSON(w, http.StatusOK, healthResponse{
		HealthFactor:    report.HealthFactor,
		Liquidatable:    report.Liquidatable,
		Solvent:         report.Solvent,
		CollateralRatio: report.CollateralRatio,
		PendingInterest: report.PendingInterest,
		CollateralPrice: collateralPrice,
		DebtPrice:       debtPrice,
		Vault:           report.Vault,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.gatedOperation(w, r, compliance.ActionDeposit, func(addr crypto.Address, req amountRequest) (outcome, error) {
		result, err := s.vaults.Deposit(addr, req.Amount)
		if err != nil {
			return outcome{}, err
		}
		return outcome{applied: req.Amount, utilizationBps: result.UtilizationBps}, nil
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.gatedOperation(w, r, compliance.ActionBorrow, func(addr crypto.Address, req amountRequest) (outcome, error) {
		debt, err := s.vaults.Borrow(addr, req.User, req.Amount)
		return outcome{applied: req.Amount, debt: debt}, err
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.gatedOperation(w, r, compliance.ActionRepay, func(addr crypto.Address, req amountRequest) (outcome, error) {
		repaid, err := s.vaults.Repay(addr, req.User, req.Amount)
		return outcome{applied: repaid}, err
	})
}

type outcome struct {
	applied        uint64
	debt           uint64
	utilizationBps uint64
}

// gatedOperation runs a vault mutation behind the user's compliance gates
// and records it in their history once it has committed.
func (s *Server) gatedOperation(w http.ResponseWriter, r *http.Request, kind compliance.ActionKind, op func(addr crypto.Address, req amountRequest) (outcome, error)) {
	addr, ok := vaultParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.User.IsZero() {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "user required")
		return
	}
	if req.Amount == 0 {
		s.fail(w, r, nativecommon.ErrInvalidAmount)
		return
	}
	var result outcome
	profile, err := s.compliance.Perform(r.Context(), req.User, kind, req.Amount, func(context.Context) error {
		var opErr error
		result, opErr = op(addr, req)
		return opErr
	})
	s.metrics.RecordOperation(kind.String(), err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.vaults.Vault(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{
		Vault:          v,
		Amount:         result.applied,
		Debt:           result.debt,
		UtilizationBps: result.utilizationBps,
		Profile:        newProfileView(profile),
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	addr, ok := vaultParam(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Liquidator.IsZero() {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "liquidator required")
		return
	}
	v, err := s.vaults.Vault(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	collateralPrice, debtPrice, err := s.pricePair(r.Context(), v)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.vaults.Liquidate(r.Context(), vault.LiquidationRequest{
		Vault:           addr,
		Liquidator:      req.Liquidator,
		CollateralPrice: collateralPrice,
		DebtPrice:       debtPrice,
	})
	s.metrics.RecordOperation("liquidate", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.RecordLiquidation(v.CollateralAsset, result.CollateralSeized)
	s.liquidations.Add(r.Context(), 1, metric.WithAttributes(attribute.String("collateral_asset", v.CollateralAsset)))
	if _, err := s.compliance.Record(v.Authority, compliance.ActionLiquidated, result.Repaid); err != nil {
		s.logger.Warn("liquidation not recorded in compliance history",
			slog.String("vault", addr.String()),
			slog.String("authority", v.Authority.String()),
			slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, liquidationResponse{
		HealthFactor:     result.HealthFactor,
		Repaid:           result.Repaid,
		CollateralSeized: result.CollateralSeized,
		SwapOutput:       result.SwapOutput,
		Bonus:            result.Bonus,
		RiskTightened:    result.RiskTightened,
		Vault:            result.Vault,
	})
}

func (s *Server) handleUpdateRiskFactor(w http.ResponseWriter, r *http.Request) {
	addr, caller, ok := s.adminTarget(w, r)
	if !ok {
		return
	}
	var req riskFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	v, err := s.vaults.UpdateRiskFactor(caller, addr, req.RiskFactor)
	s.metrics.RecordOperation("risk_factor", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAdjustRisk(w http.ResponseWriter, r *http.Request) {
	addr, caller, ok := s.adminTarget(w, r)
	if !ok {
		return
	}
	var req riskAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	v, err := s.vaults.AdjustRisk(caller, addr, req.VolatilityBps)
	s.metrics.RecordOperation("risk_adjust", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	s.toggleFreeze(w, r, true)
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	s.toggleFreeze(w, r, false)
}

func (s *Server) toggleFreeze(w http.ResponseWriter, r *http.Request, frozen bool) {
	addr, caller, ok := s.adminTarget(w, r)
	if !ok {
		return
	}
	var err error
	if frozen {
		err = s.vaults.Freeze(caller, addr)
	} else {
		err = s.vaults.Unfreeze(caller, addr)
	}
	s.metrics.RecordOperation("freeze", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.vaults.Vault(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// pricePair resolves both vault asset prices at a shared precision.
func (s *Server) pricePair(ctx context.Context, v *vault.Vault) (uint64, uint64, error) {
	if s.prices == nil {
		return 0, 0, nativecommon.ErrStaleOraclePrice
	}
	return oracle.Pair(ctx, s.prices, v.CollateralAsset, v.DebtAsset)
}

func (s *Server) adminTarget(w http.ResponseWriter, r *http.Request) (crypto.Address, crypto.Address, bool) {
	addr, ok := vaultParam(w, r)
	if !ok {
		return crypto.Address{}, crypto.Address{}, false
	}
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeProblem(w, http.StatusForbidden, "unauthorized", err.Error())
		return crypto.Address{}, crypto.Address{}, false
	}
	return addr, caller, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, err)
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err, trace.WithAttributes(attribute.String("error.kind", nativecommon.KindOf(err).String())))
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.Any("error", err))
	}
}

func vaultParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "id"))
	if err != nil || addr.Prefix() != crypto.VaultPrefix {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "invalid vault address")
		return crypto.Address{}, false
	}
	return addr, true
}
