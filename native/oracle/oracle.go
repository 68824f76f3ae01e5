package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	nativecommon "fluxrisk/native/common"
)

// MaxDecimals bounds the precision a quote may carry so rescaling stays
// within uint64 multipliers.
const MaxDecimals = 18

// Quote is a price for one whole unit of an asset expressed in the quote
// currency with Decimals fractional digits.
type Quote struct {
	Price     uint64
	Decimals  uint8
	Timestamp int64
	Source    string
}

// PriceSource resolves the latest quote for an asset.
type PriceSource interface {
	Price(ctx context.Context, asset string) (Quote, error)
}

var errNotConfigured = errors.New("oracle: price source not configured")

func normaliseSymbol(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Feed is an in-memory price source used for manual overrides and tests.
type Feed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewFeed constructs an empty feed.
func NewFeed() *Feed {
	return &Feed{quotes: make(map[string]Quote)}
}

// Set records the quote for asset, replacing any previous value.
func (f *Feed) Set(asset string, q Quote) error {
	if f == nil {
		return errNotConfigured
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return fmt.Errorf("oracle: asset required")
	}
	if q.Price == 0 {
		return fmt.Errorf("oracle: price for %s must be positive", symbol)
	}
	if q.Decimals > MaxDecimals {
		return fmt.Errorf("oracle: %d decimals exceeds maximum %d", q.Decimals, MaxDecimals)
	}
	if strings.TrimSpace(q.Source) == "" {
		q.Source = "manual"
	}
	f.mu.Lock()
	f.quotes[symbol] = q
	f.mu.Unlock()
	return nil
}

// Price implements PriceSource.
func (f *Feed) Price(_ context.Context, asset string) (Quote, error) {
	if f == nil {
		return Quote{}, errNotConfigured
	}
	symbol := normaliseSymbol(asset)
	f.mu.RLock()
	q, ok := f.quotes[symbol]
	f.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("oracle: quote for %s: %w", symbol, nativecommon.ErrNotFound)
	}
	return q, nil
}

// Guard wraps a source and rejects quotes older than MaxAge seconds.
type Guard struct {
	Source PriceSource
	MaxAge int64
	Clock  nativecommon.Clock
}

// NewGuard constructs a staleness guard using the wall clock.
func NewGuard(source PriceSource, maxAge int64) *Guard {
	return &Guard{Source: source, MaxAge: maxAge, Clock: nativecommon.SystemClock}
}

// Price implements PriceSource. A quote stamped in the future is accepted.
func (g *Guard) Price(ctx context.Context, asset string) (Quote, error) {
	if g == nil || g.Source == nil {
		return Quote{}, errNotConfigured
	}
	q, err := g.Source.Price(ctx, asset)
	if err != nil {
		return Quote{}, err
	}
	if q.Price == 0 {
		return Quote{}, fmt.Errorf("oracle: %s returned zero price", normaliseSymbol(asset))
	}
	clock := g.Clock
	if clock == nil {
		clock = nativecommon.SystemClock
	}
	if g.MaxAge > 0 && clock.Now()-q.Timestamp > g.MaxAge {
		return Quote{}, fmt.Errorf("oracle: %s quote at %d: %w", normaliseSymbol(asset), q.Timestamp, nativecommon.ErrStaleOraclePrice)
	}
	return q, nil
}

// Pair resolves the collateral and debt prices and rescales them to a common
// number of decimals so they can be compared directly.
func Pair(ctx context.Context, src PriceSource, collateralAsset, debtAsset string) (collateral, debt uint64, err error) {
	if src == nil {
		return 0, 0, errNotConfigured
	}
	cq, err := src.Price(ctx, collateralAsset)
	if err != nil {
		return 0, 0, err
	}
	dq, err := src.Price(ctx, debtAsset)
	if err != nil {
		return 0, 0, err
	}
	decimals := max(cq.Decimals, dq.Decimals)
	if collateral, err = rescale(cq, decimals); err != nil {
		return 0, 0, err
	}
	if debt, err = rescale(dq, decimals); err != nil {
		return 0, 0, err
	}
	return collateral, debt, nil
}

func rescale(q Quote, decimals uint8) (uint64, error) {
	if q.Decimals > MaxDecimals || decimals > MaxDecimals {
		return 0, fmt.Errorf("oracle: decimals out of range")
	}
	scaled := nativecommon.U128(q.Price)
	for i := q.Decimals; i < decimals; i++ {
		next, err := scaled.MulU64(10)
		if err != nil {
			return 0, err
		}
		scaled = next
	}
	return scaled.Uint64()
}
