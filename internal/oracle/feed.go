// feed.go - Price feed adapter for collateral valuation.
//
// A PriceFeed answers with a plaintext price and its decimal exponent. The
// core queries feeds fresh on every conversion; nothing here is cached.

package oracle

import (
	"errors"
	"math/big"
	"sync"
)

// ErrNoAnswer is returned by a feed that has no price to report.
var ErrNoAnswer = errors.New("oracle: no answer")

// PriceFeed reports the latest price for one asset together with the number
// of decimals the integer price is scaled by.
type PriceFeed interface {
	LatestPrice() (price *big.Int, decimals uint8, err error)
}

// StaticFeed is an updatable in-process feed, the stand-in for an external
// aggregator. Constructed with a decimal exponent and an initial answer.
type StaticFeed struct {
	mu       sync.Mutex
	decimals uint8
	answer   *big.Int
}

// NewStaticFeed creates a feed reporting answer scaled by 10^decimals.
func NewStaticFeed(decimals uint8, answer int64) *StaticFeed {
	return &StaticFeed{decimals: decimals, answer: big.NewInt(answer)}
}

// LatestPrice returns the current answer.
func (f *StaticFeed) LatestPrice() (*big.Int, uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answer == nil || f.answer.Sign() <= 0 {
		return nil, 0, ErrNoAnswer
	}
	return new(big.Int).Set(f.answer), f.decimals, nil
}

// SetAnswer updates the reported price.
func (f *StaticFeed) SetAnswer(answer int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = big.NewInt(answer)
}
