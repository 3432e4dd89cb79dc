package transaction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/ledger"
)

// Result reports what an executed request did
type Result struct {
	Type    TxType `json:"type"`
	Account string `json:"account"`
	Nonce   uint64 `json:"nonce"`
	EID     uint64 `json:"eid,omitempty"`
	Fee     string `json:"fee,omitempty"`     // wei, fulfill
	Payment string `json:"payment,omitempty"` // wei, fulfill
	Amount  string `json:"amount,omitempty"`  // wei, withdraw
}

// Executor verifies signed requests and applies them to the exchange
type Executor struct {
	ex       *exchange.Exchange
	verifier *Verifier
	nonces   *NonceTracker
	log      *zap.SugaredLogger
}

func NewExecutor(ex *exchange.Exchange, verifier *Verifier, nonces *NonceTracker, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{ex: ex, verifier: verifier, nonces: nonces, log: log}
}

func (x *Executor) Verifier() *Verifier { return x.verifier }

func (x *Executor) Nonces() *NonceTracker { return x.nonces }

// Execute verifies tx, consumes its nonce and runs it. The caller of every
// exchange operation is the recovered signer.
func (x *Executor) Execute(ctx context.Context, tx *SignedTransaction) (Result, error) {
	account, err := x.verifier.Verify(tx)
	if err != nil {
		return Result{}, err
	}
	p, err := tx.Payload()
	if err != nil {
		return Result{}, err
	}
	nonce, err := p.Head().NonceValue()
	if err != nil {
		return Result{}, err
	}
	if err := x.nonces.Consume(account, nonce); err != nil {
		return Result{}, err
	}

	res := Result{Type: tx.Type, Account: account.Hex(), Nonce: nonce}
	err = x.dispatch(ctx, account, p, &res)
	if err != nil {
		x.log.Debugw("tx_rejected", "type", tx.Type, "account", account.Hex(), "nonce", nonce, "err", err)
		return Result{}, err
	}
	return res, nil
}

func (x *Executor) dispatch(ctx context.Context, account common.Address, p Payload, res *Result) error {
	switch v := p.(type) {
	case *ListPayload:
		eid, err := x.ex.List(ctx, account,
			asset.NewRef(common.HexToAddress(v.SellAsset), mustBig(v.SellAmount)),
			asset.NewRef(common.HexToAddress(v.FulfillAsset), mustBig(v.FulfillAmount)),
			mustInt64(v.Deadline),
		)
		res.EID = eid
		return err

	case *CancelPayload:
		res.EID = mustUint64(v.EID)
		return x.ex.Cancel(ctx, account, res.EID)

	case *FulfillPayload:
		res.EID = mustUint64(v.EID)
		rc, err := x.ex.Fulfill(ctx, account, res.EID, mustBig(v.Payment))
		if err != nil {
			return err
		}
		res.Fee = rc.Fee.String()
		res.Payment = rc.Payment.String()
		return nil

	case *WithdrawPayload:
		amount, err := x.ex.Withdraw(ctx, account)
		if err != nil {
			return err
		}
		res.Amount = amount.String()
		return nil

	case *PriceFeedPayload:
		return x.ex.RegisterPriceFeed(ctx, account, common.HexToAddress(v.Asset), common.HexToAddress(v.Feed))

	case *ApprovePayload:
		return x.ex.Ledger().Update(func(tx *ledger.Tx) error {
			return tx.Approve(common.HexToAddress(v.Token), account, common.HexToAddress(v.Spender), mustBig(v.Amount))
		})

	case *ApproveTokenPayload:
		return x.ex.Ledger().Update(func(tx *ledger.Tx) error {
			return tx.ApproveToken(common.HexToAddress(v.Token), account, common.HexToAddress(v.Spender), mustBig(v.TokenID))
		})

	case *OperatorPayload:
		return x.ex.Ledger().Update(func(tx *ledger.Tx) error {
			return tx.SetApprovalForAll(common.HexToAddress(v.Token), account, common.HexToAddress(v.Operator), v.Approved)
		})

	default:
		return fmt.Errorf("%w: unsupported payload %T", ErrMalformed, p)
	}
}
