package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fluxrisk/core/events"
	"fluxrisk/crypto"
)

func TestRiskMetricsFromEvents(t *testing.T) {
	m := Risk()
	emitter := NewEventMetrics(m)

	before := testutil.ToFloat64(m.rejections.WithLabelValues("rate_limit_exceeded"))
	emitter.Emit(events.ComplianceRejected{Reason: "rate_limit_exceeded"})
	if got := testutil.ToFloat64(m.rejections.WithLabelValues("rate_limit_exceeded")); got != before+1 {
		t.Fatalf("expected rejection counter to increase, got %v", got)
	}

	vault := crypto.DeriveAddress(crypto.VaultPrefix, []byte("metrics"))
	emitter.Emit(events.RiskAdjusted{Vault: vault, RiskFactor: 300})
	if got := testutil.ToFloat64(m.riskFactor.WithLabelValues(vault.String())); got != 300 {
		t.Fatalf("unexpected risk factor gauge %v", got)
	}

	whales := testutil.ToFloat64(m.whales)
	emitter.Emit(events.TransferAuthorized{Whale: true})
	emitter.Emit(events.TransferAuthorized{Whale: false})
	if got := testutil.ToFloat64(m.whales); got != whales+1 {
		t.Fatalf("unexpected whale count %v", got)
	}
}

func TestRecordOperationOutcomes(t *testing.T) {
	m := Risk()
	m.RecordOperation("deposit", nil)
	m.RecordOperation("deposit", errors.New("boom"))
	if got := testutil.ToFloat64(m.operations.WithLabelValues("deposit", "error")); got < 1 {
		t.Fatalf("expected error outcome to be counted, got %v", got)
	}
	m.RecordLiquidation("sol", 450)
	if got := testutil.ToFloat64(m.seized.WithLabelValues("SOL")); got < 450 {
		t.Fatalf("unexpected seized total %v", got)
	}

	var nilMetrics *RiskMetrics
	nilMetrics.RecordOperation("noop", nil)
	nilMetrics.RecordWhale()
}
