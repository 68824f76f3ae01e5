package observability

import "fluxrisk/core/events"

// EventMetrics is an events.Emitter that folds engine events into the risk
// metrics registry.
type EventMetrics struct {
	metrics *RiskMetrics
}

// NewEventMetrics binds an emitter to the supplied registry.
func NewEventMetrics(m *RiskMetrics) *EventMetrics {
	return &EventMetrics{metrics: m}
}

// Emit implements events.Emitter.
func (e *EventMetrics) Emit(evt events.Event) {
	if e == nil || e.metrics == nil || evt == nil {
		return
	}
	m := e.metrics
	m.events.WithLabelValues(evt.EventType()).Inc()
	switch ev := evt.(type) {
	case events.VaultLiquidated:
		m.ObserveHealth(ev.Vault.String(), ev.HealthFactor)
	case events.RiskAdjusted:
		m.ObserveRiskFactor(ev.Vault.String(), ev.RiskFactor)
	case events.RiskFactorUpdated:
		m.ObserveRiskFactor(ev.Vault.String(), ev.RiskFactor)
	case events.ComplianceRejected:
		m.RecordRejection(ev.Reason)
	case events.TransferAuthorized:
		if ev.Whale {
			m.RecordWhale()
		}
	}
}
