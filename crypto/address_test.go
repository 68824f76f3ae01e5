package crypto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	addr := DeriveAddress(UserPrefix, []byte("alice"))
	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "flux1"))

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, decoded)
	require.Equal(t, UserPrefix, decoded.Prefix())
}

func TestNewAddressRejectsShortPayload(t *testing.T) {
	_, err := NewAddress(UserPrefix, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestDeriveAddressDeterministic(t *testing.T) {
	a := DeriveAddress(VaultPrefix, []byte("vault"), []byte{1})
	b := DeriveAddress(VaultPrefix, []byte("vault"), []byte{1})
	c := DeriveAddress(VaultPrefix, []byte("vault"), []byte{2})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.False(t, a.IsZero())
}

func TestAddressJSON(t *testing.T) {
	addr := DeriveAddress(UserPrefix, []byte("bob"))
	payload, err := json.Marshal(struct {
		Owner Address `json:"owner"`
	}{Owner: addr})
	require.NoError(t, err)

	var out struct {
		Owner Address `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(payload, &out))
	require.Equal(t, addr, out.Owner)
}
