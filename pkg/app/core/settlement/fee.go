package settlement

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// WeiPerEther scales a price quoted in whole base-currency units to wei
var WeiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// DefaultFeeRate is 1% of the priced leg's value
var DefaultFeeRate = decimal.RequireFromString("0.01")

// FeeSchedule turns an oracle price into a fee obligation in wei:
//
//	fee = floor(answer * quantity * 10^18 * rate / 10^decimals)
//
// The product is computed on integers from the rate's coefficient and
// exponent, so the only rounding is the final floor.
type FeeSchedule struct {
	rate decimal.Decimal
}

func NewFeeSchedule(rate decimal.Decimal) (FeeSchedule, error) {
	if rate.IsNegative() {
		return FeeSchedule{}, fmt.Errorf("fee rate must not be negative: %s", rate)
	}
	return FeeSchedule{rate: rate}, nil
}

func (f FeeSchedule) Rate() decimal.Decimal { return f.rate }

// Fee computes the fee for quantity units priced at answer/10^decimals.
func (f FeeSchedule) Fee(answer *big.Int, decimals uint8, quantity *big.Int) *big.Int {
	num := new(big.Int).Mul(answer, quantity)
	num.Mul(num, WeiPerEther)
	num.Mul(num, f.rate.Coefficient())

	den := pow10(int64(decimals))
	if exp := int64(f.rate.Exponent()); exp >= 0 {
		num.Mul(num, pow10(exp))
	} else {
		den.Mul(den, pow10(-exp))
	}

	if num.Sign() <= 0 {
		return new(big.Int)
	}
	return num.Quo(num, den)
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// FormatWei renders a wei amount in ether for logs and API views
func FormatWei(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}
