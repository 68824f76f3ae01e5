package compliance

import (
	"fmt"
	"strings"

	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
)

const (
	// HistoryDepth is the capacity of the per-user action ring buffer.
	HistoryDepth = 50
	// MaxReputation is the ceiling of the reputation score.
	MaxReputation = 100
	// DefaultPremiumReputation is the score a user must exceed for premium.
	DefaultPremiumReputation = 80
	// DefaultPremiumBorrowThreshold is the lifetime borrow volume a user must
	// exceed for premium.
	DefaultPremiumBorrowThreshold = 1_000_000_000_000

	liquidationReputationPenalty = 10
)

// Role classifies participants. Blacklisted is terminal.
type Role uint8

const (
	RoleStandard Role = iota
	RolePremium
	RoleInstitutional
	RoleAuditor
	RoleBlacklisted
)

var roleNames = [...]string{"standard", "premium", "institutional", "auditor", "blacklisted"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole resolves a role name, ignoring case.
func ParseRole(s string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for i, name := range roleNames {
		if name == normalized {
			return Role(i), nil
		}
	}
	return RoleStandard, fmt.Errorf("compliance: unknown role %q", s)
}

// ActionKind classifies an entry in the action history.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionDeposit
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidated
)

var actionNames = [...]string{"none", "deposit", "withdraw", "borrow", "repay", "liquidated"}

func (k ActionKind) String() string {
	if int(k) < len(actionNames) {
		return actionNames[k]
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// ParseActionKind resolves an action name, ignoring case.
func ParseActionKind(s string) (ActionKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for i, name := range actionNames {
		if name == normalized {
			return ActionKind(i), nil
		}
	}
	return ActionNone, fmt.Errorf("compliance: unknown action %q", s)
}

// ActionRecord is a single history entry. Tag is a truncated digest binding
// the entry to its owner and slot.
type ActionRecord struct {
	Kind      ActionKind `json:"kind"`
	Amount    uint64     `json:"amount"`
	Timestamp int64      `json:"timestamp"`
	Tag       [8]byte    `json:"tag"`
}

func (r ActionRecord) empty() bool {
	return r == ActionRecord{}
}

// UserProfile is the per-participant compliance aggregate.
type UserProfile struct {
	Owner                 crypto.Address
	ReputationScore       uint8
	ActiveLoanCount       uint32
	TotalBorrowedLifetime uint64
	TotalRepaidLifetime   uint64
	LiquidationCount      uint16
	LastActiveTime        int64
	Role                  Role
	KYCVerified           bool
	AMLFlagged            bool
	CountryCode           [2]byte
	ActionHistory         [HistoryDepth]ActionRecord
	// HistoryIndex is the next slot to be written.
	HistoryIndex uint8
}

// NewUserProfile returns a fresh standard profile with no history.
func NewUserProfile(owner crypto.Address) *UserProfile {
	return &UserProfile{Owner: owner, Role: RoleStandard}
}

// Clone returns a deep copy. The history array is copied by value.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// RecordAction appends an entry to the history ring buffer, refreshes the
// cooldown clock and updates the lifetime aggregates. It never fails.
// Timestamps before the epoch are recorded as zero.
func (p *UserProfile) RecordAction(kind ActionKind, amount uint64, now int64) ActionRecord {
	now = max(now, 0)
	slot := p.HistoryIndex % HistoryDepth
	record := ActionRecord{Kind: kind, Amount: amount, Timestamp: now}
	record.Tag = actionTag(p.Owner, slot, record)
	p.ActionHistory[slot] = record
	p.HistoryIndex = (slot + 1) % HistoryDepth
	p.LastActiveTime = now

	switch kind {
	case ActionBorrow:
		p.TotalBorrowedLifetime = nativecommon.SaturatingAdd(p.TotalBorrowedLifetime, amount)
		p.ActiveLoanCount = nativecommon.SaturatingAdd[uint32](p.ActiveLoanCount, 1)
	case ActionRepay:
		p.TotalRepaidLifetime = nativecommon.SaturatingAdd(p.TotalRepaidLifetime, amount)
		p.ActiveLoanCount = nativecommon.SaturatingSub[uint32](p.ActiveLoanCount, 1)
	case ActionLiquidated:
		p.LiquidationCount = nativecommon.SaturatingAdd[uint16](p.LiquidationCount, 1)
		p.ReputationScore = nativecommon.SaturatingSub[uint8](p.ReputationScore, liquidationReputationPenalty)
	}

	p.UpdateReputation()
	return record
}

// UpdateReputation rewards a net-positive repayment record by one point. The
// score never exceeds MaxReputation.
func (p *UserProfile) UpdateReputation() {
	if p.TotalRepaidLifetime > p.TotalBorrowedLifetime {
		p.ReputationScore = nativecommon.SaturatingAdd[uint8](p.ReputationScore, 1)
	}
	if p.ReputationScore > MaxReputation {
		p.ReputationScore = MaxReputation
	}
}

// IsEligibleForPremium applies the default premium thresholds.
func (p *UserProfile) IsEligibleForPremium() bool {
	return DefaultParams().EligibleForPremium(p)
}

// History returns the retained entries from oldest to newest.
func (p *UserProfile) History() []ActionRecord {
	if p == nil {
		return nil
	}
	out := make([]ActionRecord, 0, HistoryDepth)
	start := int(p.HistoryIndex % HistoryDepth)
	for i := 0; i < HistoryDepth; i++ {
		record := p.ActionHistory[(start+i)%HistoryDepth]
		if record.empty() {
			continue
		}
		out = append(out, record)
	}
	return out
}

// VerifyHistory recomputes every stored tag and reports the first slot whose
// tag does not match.
func (p *UserProfile) VerifyHistory() error {
	if p == nil {
		return nil
	}
	for slot, record := range p.ActionHistory {
		if record.empty() {
			continue
		}
		if actionTag(p.Owner, uint8(slot), record) != record.Tag {
			return fmt.Errorf("compliance: history slot %d fails integrity check", slot)
		}
	}
	return nil
}
