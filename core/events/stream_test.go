package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"fluxrisk/crypto"
)

func TestBroadcasterBacklogAndLive(t *testing.T) {
	b := NewBroadcaster(2)
	vault := crypto.DeriveAddress(crypto.VaultPrefix, []byte("v1"))

	b.Emit(DebtRepaid{Vault: vault, Amount: 1})
	b.Emit(DebtRepaid{Vault: vault, Amount: 2})
	b.Emit(DebtRepaid{Vault: vault, Amount: 3})

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	updates, cancel, backlog := b.Subscribe(ctx, "2")
	defer cancel()

	require.Len(t, backlog, 1)
	require.Equal(t, uint64(3), backlog[0].Sequence)
	require.Equal(t, "3", backlog[0].Event.Attributes["amount"])

	b.Emit(VaultFreezeToggled{Vault: vault, Frozen: true})
	env := <-updates
	require.Equal(t, TypeVaultFrozen, env.Event.Type)
	require.Equal(t, "4", env.Cursor)

	cancel()
	_, open := <-updates
	require.False(t, open)
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestRenderFallsBackToType(t *testing.T) {
	rendered := Render(bareEvent{})
	require.Equal(t, "bare", rendered.Type)
	require.Empty(t, rendered.Attributes)
}

type captureEmitter struct{ events []Event }

func (c *captureEmitter) Emit(evt Event) { c.events = append(c.events, evt) }

func TestMultiSkipsNil(t *testing.T) {
	capture := &captureEmitter{}
	Multi{nil, capture, NoopEmitter{}}.Emit(bareEvent{})
	require.Len(t, capture.events, 1)
}
