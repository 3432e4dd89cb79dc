// Package settlement prices an order through the oracle, checks the attached
// payment and moves both legs of the swap.
package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/order"
)

// PriceSource answers the latest price of an asset
type PriceSource interface {
	LatestPrice(ctx context.Context, asset common.Address) (oracle.Price, error)
}

// KindResolver decides how an asset moves
type KindResolver interface {
	Kind(ctx context.Context, asset common.Address) asset.Kind
}

// Assets is the transfer capability settlement runs against. Implementations
// must not make any effect observable until the caller commits them.
type Assets interface {
	// Debit takes native currency from an account (the attached payment).
	Debit(ctx context.Context, from common.Address, amount *big.Int) error
	// TransferFrom moves a fungible amount, spender acting on from's allowance.
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error
	// TransferToken moves one unique token, operator acting on an approval.
	TransferToken(ctx context.Context, token, operator, from, to common.Address, tokenID *big.Int) error
}

// Quote is what a buyer owes for an order
type Quote struct {
	Fee      *big.Int     `json:"fee"`
	Quantity *big.Int     `json:"quantity"`
	Kind     asset.Kind   `json:"kind"`
	Price    oracle.Price `json:"price"`
}

// Receipt describes a settled swap
type Receipt struct {
	Fee     *big.Int
	Payment *big.Int
	Sell    asset.Kind
	Fulfill asset.Kind
}

// Engine prices orders and moves both legs of a swap
type Engine struct {
	prices   PriceSource
	resolver KindResolver
	fees     FeeSchedule
	operator common.Address // the exchange's own address
	log      *zap.SugaredLogger
}

func NewEngine(prices PriceSource, resolver KindResolver, fees FeeSchedule, operator common.Address, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		prices:   prices,
		resolver: resolver,
		fees:     fees,
		operator: operator,
		log:      log,
	}
}

func (e *Engine) Fees() FeeSchedule { return e.fees }

// Operator is the address that moves assets on the parties' behalf
func (e *Engine) Operator() common.Address { return e.operator }

// Quote prices the ToFulfill leg of o.
func (e *Engine) Quote(ctx context.Context, o order.Order) (Quote, error) {
	price, err := e.prices.LatestPrice(ctx, o.ToFulfill.Asset)
	if err != nil {
		return Quote{}, err
	}
	kind := e.resolver.Kind(ctx, o.ToFulfill.Asset)
	qty := o.ToFulfill.Quantity(kind)

	return Quote{
		Fee:      e.fees.Fee(price.Answer, price.Decimals, qty),
		Quantity: qty,
		Kind:     kind,
		Price:    price,
	}, nil
}

// Settle validates payment against the quoted fee and executes the swap on
// assets: payment debit, seller leg, buyer leg. Any error leaves the caller to
// discard everything staged on assets.
func (e *Engine) Settle(ctx context.Context, assets Assets, o order.Order, buyer common.Address, payment *big.Int) (Receipt, error) {
	if payment == nil {
		payment = new(big.Int)
	}

	quote, err := e.Quote(ctx, o)
	if err != nil {
		return Receipt{}, err
	}
	if payment.Cmp(quote.Fee) < 0 {
		return Receipt{}, fmt.Errorf("%w: attached %s wei, fee %s wei", core.ErrInsufficientFee, payment, quote.Fee)
	}

	sellKind := e.resolver.Kind(ctx, o.ToSell.Asset)

	if err := assets.Debit(ctx, buyer, payment); err != nil {
		return Receipt{}, fmt.Errorf("%w: payment: %w", core.ErrTransferFailed, err)
	}
	if err := e.move(ctx, assets, o.ToSell, sellKind, o.Seller, buyer); err != nil {
		return Receipt{}, err
	}
	if err := e.move(ctx, assets, o.ToFulfill, quote.Kind, buyer, o.Seller); err != nil {
		return Receipt{}, err
	}

	e.log.Debugw("settlement_executed",
		"eid", o.EID,
		"fee_wei", quote.Fee.String(),
		"payment_wei", payment.String(),
		"sell_kind", sellKind.String(),
		"fulfill_kind", quote.Kind.String(),
	)

	return Receipt{
		Fee:     quote.Fee,
		Payment: new(big.Int).Set(payment),
		Sell:    sellKind,
		Fulfill: quote.Kind,
	}, nil
}

func (e *Engine) move(ctx context.Context, assets Assets, leg asset.Ref, kind asset.Kind, from, to common.Address) error {
	if kind == asset.Unique {
		if err := assets.TransferToken(ctx, leg.Asset, e.operator, from, to, leg.Amount()); err != nil {
			return fmt.Errorf("%w: %s #%s: %w", core.ErrTransferUnauthorized, leg.Asset.Hex(), leg.Amount(), err)
		}
		return nil
	}
	if err := assets.TransferFrom(ctx, leg.Asset, e.operator, from, to, leg.Amount()); err != nil {
		return fmt.Errorf("%w: %s %s: %w", core.ErrTransferFailed, leg.Asset.Hex(), leg.Amount(), err)
	}
	return nil
}
