package oracle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoAnswer is returned by a feed that has never reported.
	ErrNoAnswer = errors.New("price feed has no answer")
	// ErrInvalidAnswer is returned for zero or negative answers.
	ErrInvalidAnswer = errors.New("price feed answer is not positive")
	// ErrStalePrice is returned when the last update is older than the
	// configured maximum age.
	ErrStalePrice = errors.New("price feed answer is stale")
)

// Price is the latest answer of a feed: the value of one unit of the asset
// in the base currency, scaled by 10^Decimals.
type Price struct {
	Answer    *big.Int  `json:"answer"`
	Decimals  uint8     `json:"decimals"`
	RoundID   *big.Int  `json:"roundId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Value returns the unscaled price.
func (p Price) Value() decimal.Decimal {
	if p.Answer == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(p.Answer, -int32(p.Decimals))
}

// Feed is a live price source bound to one feed handle.
type Feed interface {
	LatestPrice(ctx context.Context) (Price, error)
}

// FeedFactory turns a registered handle into a Feed. Building a feed must not
// touch the network.
type FeedFactory interface {
	Feed(handle common.Address) (Feed, error)
}

func validate(p Price) error {
	if p.Answer == nil {
		return ErrNoAnswer
	}
	if p.Answer.Sign() <= 0 {
		return ErrInvalidAnswer
	}
	return nil
}
