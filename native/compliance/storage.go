package compliance

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fluxrisk/crypto"
)

// storage abstracts the subset of state manager functionality required by the
// compliance ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var profilePrefix = []byte("compliance/profile/")

func profileKey(owner crypto.Address) []byte {
	raw := owner.Raw()
	digest := ethcrypto.Keccak256(raw[:])
	return []byte(fmt.Sprintf("%s%x", profilePrefix, digest))
}

var (
	errNilLedger  = errors.New("compliance: ledger not initialised")
	errNilStorage = errors.New("compliance: storage unavailable")
)

// Ledger persists user profiles in the key-value store.
type Ledger struct {
	store storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

// Get loads the profile for owner. ok is false when none exists.
func (l *Ledger) Get(owner crypto.Address) (*UserProfile, bool, error) {
	if l == nil {
		return nil, false, errNilLedger
	}
	if l.store == nil {
		return nil, false, errNilStorage
	}
	var stored storedProfile
	ok, err := l.store.KVGet(profileKey(owner), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	profile, err := stored.profile()
	if err != nil {
		return nil, false, err
	}
	return profile, true, nil
}

// Put stores the profile, overwriting any previous version.
func (l *Ledger) Put(profile *UserProfile) error {
	if l == nil {
		return errNilLedger
	}
	if l.store == nil {
		return errNilStorage
	}
	if profile == nil {
		return errors.New("compliance: profile required")
	}
	if profile.Owner.IsZero() {
		return errors.New("compliance: profile owner required")
	}
	return l.store.KVPut(profileKey(profile.Owner), newStoredProfile(profile))
}

// Delete removes the profile for owner. It is only used to undo a profile
// created by an action that then failed.
func (l *Ledger) Delete(owner crypto.Address) error {
	if l == nil {
		return errNilLedger
	}
	if l.store == nil {
		return errNilStorage
	}
	return l.store.KVDelete(profileKey(owner))
}

// storedAction and storedProfile are the RLP-friendly encodings. RLP has no
// signed integers, so timestamps are stored unsigned and negative values
// clamp to zero.
type storedAction struct {
	Kind      uint8
	Amount    uint64
	Timestamp uint64
	Tag       [8]byte
}

type storedProfile struct {
	Prefix                string
	Owner                 [20]byte
	ReputationScore       uint8
	ActiveLoanCount       uint32
	TotalBorrowedLifetime uint64
	TotalRepaidLifetime   uint64
	LiquidationCount      uint16
	LastActiveTime        uint64
	Role                  uint8
	KYCVerified           bool
	AMLFlagged            bool
	CountryCode           [2]byte
	History               [HistoryDepth]storedAction
	HistoryIndex          uint8
}

func clampTimestamp(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func newStoredProfile(p *UserProfile) *storedProfile {
	stored := &storedProfile{
		Prefix:                string(p.Owner.Prefix()),
		Owner:                 p.Owner.Raw(),
		ReputationScore:       p.ReputationScore,
		ActiveLoanCount:       p.ActiveLoanCount,
		TotalBorrowedLifetime: p.TotalBorrowedLifetime,
		TotalRepaidLifetime:   p.TotalRepaidLifetime,
		LiquidationCount:      p.LiquidationCount,
		LastActiveTime:        clampTimestamp(p.LastActiveTime),
		Role:                  uint8(p.Role),
		KYCVerified:           p.KYCVerified,
		AMLFlagged:            p.AMLFlagged,
		CountryCode:           p.CountryCode,
		HistoryIndex:          p.HistoryIndex,
	}
	for i, record := range p.ActionHistory {
		stored.History[i] = storedAction{
			Kind:      uint8(record.Kind),
			Amount:    record.Amount,
			Timestamp: clampTimestamp(record.Timestamp),
			Tag:       record.Tag,
		}
	}
	return stored
}

func (s *storedProfile) profile() (*UserProfile, error) {
	owner, err := crypto.NewAddress(crypto.AddressPrefix(s.Prefix), s.Owner[:])
	if err != nil {
		return nil, err
	}
	if s.HistoryIndex >= HistoryDepth {
		return nil, fmt.Errorf("compliance: stored history index %d out of range", s.HistoryIndex)
	}
	p := &UserProfile{
		Owner:                 owner,
		ReputationScore:       s.ReputationScore,
		ActiveLoanCount:       s.ActiveLoanCount,
		TotalBorrowedLifetime: s.TotalBorrowedLifetime,
		TotalRepaidLifetime:   s.TotalRepaidLifetime,
		LiquidationCount:      s.LiquidationCount,
		LastActiveTime:        int64(s.LastActiveTime),
		Role:                  Role(s.Role),
		KYCVerified:           s.KYCVerified,
		AMLFlagged:            s.AMLFlagged,
		CountryCode:           s.CountryCode,
		HistoryIndex:          s.HistoryIndex,
	}
	for i, record := range s.History {
		p.ActionHistory[i] = ActionRecord{
			Kind:      ActionKind(record.Kind),
			Amount:    record.Amount,
			Timestamp: int64(record.Timestamp),
			Tag:       record.Tag,
		}
	}
	return p, nil
}
