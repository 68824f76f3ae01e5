package compliance

import (
	"fmt"

	nativecommon "fluxrisk/native/common"
)

const (
	DefaultKYCThreshold        = 10_000_000_000
	DefaultCooldownSeconds     = 30
	DefaultWhaleAlertThreshold = 100_000_000_000
)

// Params captures the compliance thresholds.
type Params struct {
	// KYCThreshold is the largest amount an unverified user may move.
	KYCThreshold uint64 `toml:"KYCThreshold"`
	// CooldownSeconds is the minimum spacing between recorded actions.
	CooldownSeconds        int64  `toml:"CooldownSeconds"`
	PremiumReputation      uint8  `toml:"PremiumReputation"`
	PremiumBorrowThreshold uint64 `toml:"PremiumBorrowThreshold"`
	// WhaleAlertThreshold flags transfers for analytics. It never blocks.
	WhaleAlertThreshold uint64 `toml:"WhaleAlertThreshold"`
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		KYCThreshold:           DefaultKYCThreshold,
		CooldownSeconds:        DefaultCooldownSeconds,
		PremiumReputation:      DefaultPremiumReputation,
		PremiumBorrowThreshold: DefaultPremiumBorrowThreshold,
		WhaleAlertThreshold:    DefaultWhaleAlertThreshold,
	}
}

// EnsureDefaults fills unset thresholds.
func (p *Params) EnsureDefaults() {
	if p == nil {
		return
	}
	defaults := DefaultParams()
	if p.KYCThreshold == 0 {
		p.KYCThreshold = defaults.KYCThreshold
	}
	if p.CooldownSeconds == 0 {
		p.CooldownSeconds = defaults.CooldownSeconds
	}
	if p.PremiumReputation == 0 {
		p.PremiumReputation = defaults.PremiumReputation
	}
	if p.PremiumBorrowThreshold == 0 {
		p.PremiumBorrowThreshold = defaults.PremiumBorrowThreshold
	}
	if p.WhaleAlertThreshold == 0 {
		p.WhaleAlertThreshold = defaults.WhaleAlertThreshold
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.CooldownSeconds < 0 {
		return fmt.Errorf("compliance params: cooldown must not be negative")
	}
	if p.PremiumReputation >= MaxReputation {
		return fmt.Errorf("compliance params: premium reputation %d unreachable", p.PremiumReputation)
	}
	return nil
}

// EligibleForPremium reports whether the profile clears both premium bars.
func (p Params) EligibleForPremium(profile *UserProfile) bool {
	if profile == nil {
		return false
	}
	return profile.ReputationScore > p.PremiumReputation && profile.TotalBorrowedLifetime > p.PremiumBorrowThreshold
}

// AuthorizeTransfer runs the ordered gate sequence and returns the first
// failure. The AML flag is checked first and cannot be overridden. The
// cooldown is measured from the previous recorded action of any kind. No
// state is modified.
func (p Params) AuthorizeTransfer(profile *UserProfile, amount uint64, now int64) error {
	if profile == nil {
		return nativecommon.ErrNotFound
	}
	if profile.AMLFlagged {
		return nativecommon.ErrAccountFlagged
	}
	if profile.Role == RoleBlacklisted {
		return nativecommon.ErrUserBlacklisted
	}
	if !profile.KYCVerified && amount > p.KYCThreshold {
		return nativecommon.ErrTransferLimitExceeded
	}
	if now-profile.LastActiveTime < p.CooldownSeconds {
		return nativecommon.ErrRateLimitExceeded
	}
	return nil
}

// AuthorizeTransfer applies the default thresholds.
func AuthorizeTransfer(profile *UserProfile, amount uint64, now int64) error {
	return DefaultParams().AuthorizeTransfer(profile, amount, now)
}
