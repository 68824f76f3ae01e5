package events

import (
	"strconv"

	"fluxrisk/core/types"
	"fluxrisk/crypto"
)

const (
	TypeProfileRegistered  = "compliance.profile_registered"
	TypeProfileUpdated     = "compliance.profile_updated"
	TypeTransferAuthorized = "compliance.transfer_authorized"
	TypeActionRecorded     = "compliance.action_recorded"
	TypeComplianceRejected = "compliance.rejected"
)

type ProfileRegistered struct {
	User      crypto.Address
	Timestamp int64
}

func (ProfileRegistered) EventType() string { return TypeProfileRegistered }

func (e ProfileRegistered) Event() *types.Event {
	return &types.Event{Type: TypeProfileRegistered, Attributes: map[string]string{
		"user":      formatAddress(e.User),
		"timestamp": formatInt(e.Timestamp),
	}}
}

// ProfileUpdated captures administrative flag and role changes.
type ProfileUpdated struct {
	User        crypto.Address
	Role        string
	KYCVerified bool
	AMLFlagged  bool
}

func (ProfileUpdated) EventType() string { return TypeProfileUpdated }

func (e ProfileUpdated) Event() *types.Event {
	return &types.Event{Type: TypeProfileUpdated, Attributes: map[string]string{
		"user":        formatAddress(e.User),
		"role":        e.Role,
		"kycVerified": strconv.FormatBool(e.KYCVerified),
		"amlFlagged":  strconv.FormatBool(e.AMLFlagged),
	}}
}

type TransferAuthorized struct {
	From   crypto.Address
	To     crypto.Address
	Amount uint64
	Whale  bool
}

func (TransferAuthorized) EventType() string { return TypeTransferAuthorized }

func (e TransferAuthorized) Event() *types.Event {
	attrs := map[string]string{
		"from":   formatAddress(e.From),
		"amount": formatUint(e.Amount),
	}
	setIfPresent(attrs, "to", formatAddress(e.To))
	if e.Whale {
		attrs["whale"] = "true"
	}
	return &types.Event{Type: TypeTransferAuthorized, Attributes: attrs}
}

type ActionRecorded struct {
	User       crypto.Address
	Kind       string
	Amount     uint64
	Reputation uint8
	Slot       uint8
	Timestamp  int64
}

func (ActionRecorded) EventType() string { return TypeActionRecorded }

func (e ActionRecorded) Event() *types.Event {
	return &types.Event{Type: TypeActionRecorded, Attributes: map[string]string{
		"user":       formatAddress(e.User),
		"kind":       e.Kind,
		"amount":     formatUint(e.Amount),
		"reputation": strconv.FormatUint(uint64(e.Reputation), 10),
		"slot":       strconv.FormatUint(uint64(e.Slot), 10),
		"timestamp":  formatInt(e.Timestamp),
	}}
}

// ComplianceRejected is emitted when a gate refuses an operation.
type ComplianceRejected struct {
	User   crypto.Address
	Amount uint64
	Reason string
}

func (ComplianceRejected) EventType() string { return TypeComplianceRejected }

func (e ComplianceRejected) Event() *types.Event {
	return &types.Event{Type: TypeComplianceRejected, Attributes: map[string]string{
		"user":   formatAddress(e.User),
		"amount": formatUint(e.Amount),
		"reason": e.Reason,
	}}
}
