package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// UserPrefix identifies participant accounts and vault authorities.
	UserPrefix AddressPrefix = "flux"
	// VaultPrefix identifies collateral pools.
	VaultPrefix AddressPrefix = "fluxvault"
)

// AddressLength is the byte length of every address payload.
const AddressLength = 20

// Address is a 20-byte identifier rendered with a bech32 human-readable
// prefix. The zero value is the empty address. Address is comparable and can
// be used as a map key.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress builds an address from a 20-byte payload.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	var addr Address
	addr.prefix = prefix
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress is NewAddress for payloads known to be well formed.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// DeriveAddress hashes the supplied parts with Keccak-256 and keeps the last
// 20 bytes, mirroring how account addresses are derived from public keys.
func DeriveAddress(prefix AddressPrefix, parts ...[]byte) Address {
	digest := crypto.Keccak256(parts...)
	return MustNewAddress(prefix, digest[len(digest)-AddressLength:])
}

func (a Address) String() string {
	if a.IsZero() && a.prefix == "" {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the payload as a fixed array.
func (a Address) Raw() [AddressLength]byte { return a.bytes }

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the payload is all zeroes.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

// Equal compares payloads, ignoring the prefix.
func (a Address) Equal(other Address) bool {
	return a.bytes == other.bytes
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// MarshalJSON renders the bech32 form.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON parses the bech32 form. An empty string yields the zero
// address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(s)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}
