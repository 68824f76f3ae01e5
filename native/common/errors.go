package common

import "errors"

// ErrorKind classifies the failures surfaced by the risk and compliance
// engines. Callers that need to branch on the failure category should use
// KindOf or errors.Is against the exported sentinels.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindArithmeticOverflow
	KindInsufficientLiquidity
	KindInvalidAmount
	KindVaultFrozen
	KindVaultHealthy
	KindStaleOraclePrice
	KindAccountFlagged
	KindTransferLimitExceeded
	KindRateLimitExceeded
	KindUnauthorized
	KindUserBlacklisted
	KindInvalidRiskFactor
	KindSlippageExceeded
	KindModulePaused
	KindNotFound
	KindLowReputation
)

var kindNames = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindArithmeticOverflow:    "arithmetic_overflow",
	KindInsufficientLiquidity: "insufficient_liquidity",
	KindInvalidAmount:         "invalid_amount",
	KindVaultFrozen:           "vault_frozen",
	KindVaultHealthy:          "vault_healthy",
	KindStaleOraclePrice:      "stale_oracle_price",
	KindAccountFlagged:        "account_flagged",
	KindTransferLimitExceeded: "transfer_limit_exceeded",
	KindRateLimitExceeded:     "rate_limit_exceeded",
	KindUnauthorized:          "unauthorized",
	KindUserBlacklisted:       "user_blacklisted",
	KindInvalidRiskFactor:     "invalid_risk_factor",
	KindSlippageExceeded:      "slippage_exceeded",
	KindModulePaused:          "module_paused",
	KindNotFound:              "not_found",
	KindLowReputation:         "low_reputation",
}

// String renders the snake_case label used in logs, metrics and API payloads.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a classified engine failure.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.msg
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

var (
	ErrArithmeticOverflow    = newError(KindArithmeticOverflow, "invalid arithmetic operation (overflow/underflow)")
	ErrInsufficientLiquidity = newError(KindInsufficientLiquidity, "insufficient liquidity")
	ErrInvalidAmount         = newError(KindInvalidAmount, "invalid amount specified")
	ErrVaultFrozen           = newError(KindVaultFrozen, "vault is frozen")
	ErrVaultHealthy          = newError(KindVaultHealthy, "vault is healthy, liquidation rejected")
	ErrStaleOraclePrice      = newError(KindStaleOraclePrice, "oracle price data is stale or invalid")
	ErrAccountFlagged        = newError(KindAccountFlagged, "account has been flagged for AML review")
	ErrTransferLimitExceeded = newError(KindTransferLimitExceeded, "transfer limit exceeded for unverified account")
	ErrRateLimitExceeded     = newError(KindRateLimitExceeded, "rate limit exceeded, retry later")
	ErrUnauthorized          = newError(KindUnauthorized, "unauthorized")
	ErrUserBlacklisted       = newError(KindUserBlacklisted, "user is blacklisted")
	ErrInvalidRiskFactor     = newError(KindInvalidRiskFactor, "invalid risk factor configuration")
	ErrSlippageExceeded      = newError(KindSlippageExceeded, "slippage tolerance exceeded")
	ErrModulePaused          = newError(KindModulePaused, "module paused")
	ErrNotFound              = newError(KindNotFound, "not found")
	ErrLowReputation         = newError(KindLowReputation, "insufficient reputation score for this action")
)

// KindOf extracts the classification of err, returning KindUnknown for
// errors that did not originate from this package.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		return classified.Kind
	}
	return KindUnknown
}
