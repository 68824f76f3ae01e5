package vault

import (
	"context"

	"fluxrisk/crypto"
)

// SwapRequest describes the exchange executed during liquidation.
type SwapRequest struct {
	InputAsset     string
	OutputAsset    string
	AmountIn       uint64
	MaxSlippageBps uint64
}

// Swapper converts collateral into the debt asset. It returns the amount of
// output asset received. Any error aborts the liquidation.
type Swapper interface {
	Swap(ctx context.Context, req SwapRequest) (uint64, error)
}

// FundsTransferer moves value between custodial holders.
type FundsTransferer interface {
	Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error
}
