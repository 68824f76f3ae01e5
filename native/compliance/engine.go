package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fluxrisk/core/events"
	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
)

const moduleName = "compliance"

var (
	errNilTransferer = errors.New("compliance: funds transfer collaborator not configured")
	errZeroOwner     = errors.New("compliance: owner required")
)

// FundsTransferer moves value between custodial holders once a transfer has
// been authorised.
type FundsTransferer interface {
	Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error
}

// Engine wires the gate sequence and the reputation state machine to the
// ledger. Writers are serialised per user.
type Engine struct {
	ledger    *Ledger
	params    Params
	clock     nativecommon.Clock
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	logger    *slog.Logger
	transfers FundsTransferer
	locks     nativecommon.KeyedLocks[crypto.Address]
}

// NewEngine constructs an engine backed by the provided storage backend.
func NewEngine(store storage, params Params) *Engine {
	params.EnsureDefaults()
	e := &Engine{
		params:  params,
		clock:   nativecommon.SystemClock,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
	if store != nil {
		e.ledger = NewLedger(store)
	}
	return e
}

// SetClock overrides the wall clock used for cooldown checks.
func (e *Engine) SetClock(clock nativecommon.Clock) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

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

// SetFundsTransferer wires the custodial transfer collaborator.
func (e *Engine) SetFundsTransferer(t FundsTransferer) {
	if e == nil {
		return
	}
	e.transfers = t
}

// Params returns the active thresholds.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// Register creates a profile for owner if none exists and returns it.
func (e *Engine) Register(owner crypto.Address) (*UserProfile, error) {
	if err := e.ready(owner); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(owner)
	defer unlock()

	profile, ok, err := e.ledger.Get(owner)
	if err != nil {
		return nil, err
	}
	if ok {
		return profile, nil
	}
	profile = NewUserProfile(owner)
	if err := e.ledger.Put(profile); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.ProfileRegistered{User: owner, Timestamp: e.clock.Now()})
	return profile.Clone(), nil
}

// Profile returns the stored profile.
func (e *Engine) Profile(owner crypto.Address) (*UserProfile, error) {
	if err := e.ready(owner); err != nil {
		return nil, err
	}
	profile, ok, err := e.ledger.Get(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("compliance: profile %s: %w", owner, nativecommon.ErrNotFound)
	}
	return profile, nil
}

// ProfileUpdate carries optional administrative changes. Nil fields are left
// untouched.
type ProfileUpdate struct {
	KYCVerified *bool
	AMLFlagged  *bool
	Role        *Role
	CountryCode *string
}

// UpdateProfile applies administrative flag and role changes. Blacklisted is
// terminal and premium requires eligibility.
func (e *Engine) UpdateProfile(owner crypto.Address, update ProfileUpdate) (*UserProfile, error) {
	var country [2]byte
	if update.CountryCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*update.CountryCode))
		if len(code) != 2 {
			return nil, fmt.Errorf("compliance: country code %q must be two letters", *update.CountryCode)
		}
		copy(country[:], code)
	}
	var snapshot *UserProfile
	err := e.mutate(owner, true, func(p *UserProfile, _ int64) error {
		if update.Role != nil && *update.Role != p.Role {
			if p.Role == RoleBlacklisted {
				return nativecommon.ErrUserBlacklisted
			}
			if *update.Role == RolePremium && !e.params.EligibleForPremium(p) {
				return nativecommon.ErrLowReputation
			}
			p.Role = *update.Role
		}
		if update.KYCVerified != nil {
			p.KYCVerified = *update.KYCVerified
		}
		if update.AMLFlagged != nil {
			p.AMLFlagged = *update.AMLFlagged
		}
		if update.CountryCode != nil {
			p.CountryCode = country
		}
		snapshot = p.Clone()
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(events.ProfileUpdated{
		User:        owner,
		Role:        snapshot.Role.String(),
		KYCVerified: snapshot.KYCVerified,
		AMLFlagged:  snapshot.AMLFlagged,
	})
	e.logger.Info("compliance profile updated",
		slog.String("user", owner.String()),
		slog.String("role", snapshot.Role.String()),
		slog.Bool("kyc_verified", snapshot.KYCVerified),
		slog.Bool("aml_flagged", snapshot.AMLFlagged))
	return snapshot, nil
}

// Authorize runs the transfer gates against the stored profile without
// mutating it.
func (e *Engine) Authorize(owner crypto.Address, amount uint64) error {
	profile, err := e.Profile(owner)
	if err != nil {
		return err
	}
	return e.params.AuthorizeTransfer(profile, amount, e.clock.Now())
}

// Perform gates an action, records it in the user's history, and then runs
// it. The profile is created on first participation. The profile is written
// before the action so that a failed write never leaves an unrecorded
// action behind; when the action fails the previous profile is restored.
func (e *Engine) Perform(ctx context.Context, owner crypto.Address, kind ActionKind, amount uint64, action func(ctx context.Context) error) (*UserProfile, error) {
	var snapshot *UserProfile
	var record ActionRecord
	var settle func() error
	if action != nil {
		settle = func() error { return action(ctx) }
	}
	err := e.mutate(owner, true, func(p *UserProfile, now int64) error {
		if err := e.params.AuthorizeTransfer(p, amount, now); err != nil {
			e.reject(owner, amount, err)
			return err
		}
		record = p.RecordAction(kind, amount, now)
		snapshot = p.Clone()
		return nil
	}, settle)
	if err != nil {
		return nil, err
	}
	e.emitRecorded(snapshot, record)
	return snapshot, nil
}

// Transfer authorises and executes a custodial transfer, then records it as
// a withdrawal. Transfers above the whale threshold are flagged for
// analytics.
func (e *Engine) Transfer(ctx context.Context, from, to crypto.Address, amount uint64) (*UserProfile, error) {
	if amount == 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if e != nil && e.transfers == nil {
		return nil, errNilTransferer
	}
	profile, err := e.Perform(ctx, from, ActionWithdraw, amount, func(ctx context.Context) error {
		return e.transfers.Transfer(ctx, from, to, amount)
	})
	if err != nil {
		return nil, err
	}
	whale := amount > e.params.WhaleAlertThreshold
	if whale {
		e.logger.Warn("whale alert: large transfer detected",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.Uint64("amount", amount))
	}
	e.emitter.Emit(events.TransferAuthorized{From: from, To: to, Amount: amount, Whale: whale})
	return profile, nil
}

// Record appends an action without running the gates. It is used for
// outcomes imposed on the user, such as liquidations.
func (e *Engine) Record(owner crypto.Address, kind ActionKind, amount uint64) (*UserProfile, error) {
	var snapshot *UserProfile
	var record ActionRecord
	err := e.mutate(owner, true, func(p *UserProfile, now int64) error {
		record = p.RecordAction(kind, amount, now)
		snapshot = p.Clone()
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	e.emitRecorded(snapshot, record)
	return snapshot, nil
}

// Eligibility is the read-only premium assessment.
type Eligibility struct {
	Eligible              bool   `json:"eligible"`
	ReputationScore       uint8  `json:"reputationScore"`
	TotalBorrowedLifetime uint64 `json:"totalBorrowedLifetime"`
	Role                  string `json:"role"`
}

// Eligibility evaluates the premium predicate for owner.
func (e *Engine) Eligibility(owner crypto.Address) (*Eligibility, error) {
	profile, err := e.Profile(owner)
	if err != nil {
		return nil, err
	}
	return &Eligibility{
		Eligible:              e.params.EligibleForPremium(profile),
		ReputationScore:       profile.ReputationScore,
		TotalBorrowedLifetime: profile.TotalBorrowedLifetime,
		Role:                  profile.Role.String(),
	}, nil
}

// History returns the retained actions oldest first after verifying their
// integrity tags.
func (e *Engine) History(owner crypto.Address) ([]ActionRecord, error) {
	profile, err := e.Profile(owner)
	if err != nil {
		return nil, err
	}
	if err := profile.VerifyHistory(); err != nil {
		return nil, err
	}
	return profile.History(), nil
}

func (e *Engine) ready(owner crypto.Address) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	if owner.IsZero() {
		return errZeroOwner
	}
	return nil
}

// mutate loads (or creates) the profile, applies fn to a copy, and persists
// the copy only when fn succeeds. settle, when set, runs after the write; if
// it fails the previous profile is restored, or removed when it was created
// by this call.
func (e *Engine) mutate(owner crypto.Address, create bool, fn func(p *UserProfile, now int64) error, settle func() error) error {
	if err := e.ready(owner); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.locks.Lock(owner)
	defer unlock()

	stored, ok, err := e.ledger.Get(owner)
	if err != nil {
		return err
	}
	if !ok {
		if !create {
			return fmt.Errorf("compliance: profile %s: %w", owner, nativecommon.ErrNotFound)
		}
		stored = NewUserProfile(owner)
	}
	working := stored.Clone()
	if err := fn(working, e.clock.Now()); err != nil {
		return err
	}
	if err := e.ledger.Put(working); err != nil {
		return err
	}
	if settle == nil {
		return nil
	}
	if err := settle(); err != nil {
		var restoreErr error
		if ok {
			restoreErr = e.ledger.Put(stored)
		} else {
			restoreErr = e.ledger.Delete(owner)
		}
		if restoreErr != nil {
			e.logger.Error("compliance profile restore failed after action error",
				slog.String("user", owner.String()),
				slog.Any("action_error", err),
				slog.Any("error", restoreErr))
			return errors.Join(err, restoreErr)
		}
		return err
	}
	return nil
}

func (e *Engine) reject(owner crypto.Address, amount uint64, err error) {
	kind := nativecommon.KindOf(err)
	e.emitter.Emit(events.ComplianceRejected{User: owner, Amount: amount, Reason: kind.String()})
	e.logger.Warn("compliance gate rejected action",
		slog.String("user", owner.String()),
		slog.Uint64("amount", amount),
		slog.String("reason", kind.String()))
}

func (e *Engine) emitRecorded(p *UserProfile, record ActionRecord) {
	slot := (p.HistoryIndex + HistoryDepth - 1) % HistoryDepth
	e.emitter.Emit(events.ActionRecorded{
		User:       p.Owner,
		Kind:       record.Kind.String(),
		Amount:     record.Amount,
		Reputation: p.ReputationScore,
		Slot:       slot,
		Timestamp:  record.Timestamp,
	})
}
