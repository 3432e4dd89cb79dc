package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TxType represents the type of a signed request
type TxType string

const (
	TxTypeList              TxType = "list"
	TxTypeCancel            TxType = "cancel"
	TxTypeFulfill           TxType = "fulfill"
	TxTypeWithdraw          TxType = "withdraw"
	TxTypeSetPriceFeed      TxType = "setPriceFeed"
	TxTypeApprove           TxType = "approve"           // fungible allowance
	TxTypeApproveToken      TxType = "approveToken"      // single unique token
	TxTypeSetApprovalForAll TxType = "setApprovalForAll" // operator over a collection
)

var (
	ErrMalformed        = errors.New("malformed transaction")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidNonce     = errors.New("invalid nonce")
)

// Types are the EIP-712 struct definitions of every request. Each starts
// with the signing account and its nonce.
var Types = apitypes.Types{
	"List": header(
		apitypes.Type{Name: "sellAsset", Type: "address"},
		apitypes.Type{Name: "sellAmount", Type: "uint256"},
		apitypes.Type{Name: "fulfillAsset", Type: "address"},
		apitypes.Type{Name: "fulfillAmount", Type: "uint256"},
		apitypes.Type{Name: "deadline", Type: "uint256"},
	),
	"Cancel": header(
		apitypes.Type{Name: "eid", Type: "uint256"},
	),
	"Fulfill": header(
		apitypes.Type{Name: "eid", Type: "uint256"},
		apitypes.Type{Name: "payment", Type: "uint256"},
	),
	"Withdraw": header(),
	"SetPriceFeed": header(
		apitypes.Type{Name: "asset", Type: "address"},
		apitypes.Type{Name: "feed", Type: "address"},
	),
	"Approve": header(
		apitypes.Type{Name: "token", Type: "address"},
		apitypes.Type{Name: "spender", Type: "address"},
		apitypes.Type{Name: "amount", Type: "uint256"},
	),
	"ApproveToken": header(
		apitypes.Type{Name: "token", Type: "address"},
		apitypes.Type{Name: "spender", Type: "address"},
		apitypes.Type{Name: "tokenId", Type: "uint256"},
	),
	"SetApprovalForAll": header(
		apitypes.Type{Name: "token", Type: "address"},
		apitypes.Type{Name: "operator", Type: "address"},
		apitypes.Type{Name: "approved", Type: "bool"},
	),
}

func header(fields ...apitypes.Type) []apitypes.Type {
	return append([]apitypes.Type{
		{Name: "account", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	}, fields...)
}

// Payload is the signed body of a request
type Payload interface {
	PrimaryType() string
	Message() apitypes.TypedDataMessage
	Head() Header
	Validate() error
}

// Header is common to every payload
type Header struct {
	Account string `json:"account"` // Ethereum address (0x...)
	Nonce   string `json:"nonce"`   // uint64 as string (replay protection)
}

func (h Header) Head() Header { return h }

func (h Header) AccountAddress() common.Address { return common.HexToAddress(h.Account) }

func (h Header) NonceValue() (uint64, error) {
	n, err := strconv.ParseUint(h.Nonce, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: nonce %q", ErrMalformed, h.Nonce)
	}
	return n, nil
}

func (h Header) fields() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"account": h.AccountAddress().Hex(),
		"nonce":   h.Nonce,
	}
}

func (h Header) validate() error {
	if err := checkAddress("account", h.Account); err != nil {
		return err
	}
	_, err := h.NonceValue()
	return err
}

// ListPayload offers SellAmount of SellAsset for FulfillAmount of FulfillAsset.
// Amounts are token ids for unique assets.
type ListPayload struct {
	Header
	SellAsset     string `json:"sellAsset"`
	SellAmount    string `json:"sellAmount"` // BigInt as string
	FulfillAsset  string `json:"fulfillAsset"`
	FulfillAmount string `json:"fulfillAmount"` // BigInt as string
	Deadline      string `json:"deadline"`      // Unix seconds
}

func (p *ListPayload) PrimaryType() string { return "List" }

func (p *ListPayload) Message() apitypes.TypedDataMessage {
	m := p.fields()
	m["sellAsset"] = common.HexToAddress(p.SellAsset).Hex()
	m["sellAmount"] = p.SellAmount
	m["fulfillAsset"] = common.HexToAddress(p.FulfillAsset).Hex()
	m["fulfillAmount"] = p.FulfillAmount
	m["deadline"] = p.Deadline
	return m
}

func (p *ListPayload) Validate() error {
	return firstErr(
		p.validate(),
		checkAddress("sellAsset", p.SellAsset),
		checkUint("sellAmount", p.SellAmount),
		checkAddress("fulfillAsset", p.FulfillAsset),
		checkUint("fulfillAmount", p.FulfillAmount),
		checkInt64("deadline", p.Deadline),
	)
}

type CancelPayload struct {
	Header
	EID string `json:"eid"`
}

func (p *CancelPayload) PrimaryType() string { return "Cancel" }

func (p *CancelPayload) Message() apitypes.TypedDataMessage {
	m := p.fields()
	m["eid"] = p.EID
	return m
}

func (p *CancelPayload) Validate() error {
	return firstErr(p.validate(), checkUint64("eid", p.EID))
}

// FulfillPayload attaches Payment (wei) from the account's native balance
type FulfillPayload struct {
	Header
	EID     string `json:"eid"`
	Payment string `json:"payment"`
}

func (p *FulfillPayload) PrimaryType() string { return "Fulfill" }

func (p *FulfillPayload) Message() apitypes.TypedDataMessage {
	m := p.fields()
	m["eid"] = p.EID
	m["payment"] = p.Payment
	return m
}

func (p *FulfillPayload) Validate() error {
	return firstErr(p.validate(), checkUint64("eid", p.EID), checkUint("payment", p.Payment))
}

type WithdrawPayload struct {
	Header
}

func (p *WithdrawPayload) PrimaryType() string { return "Withdraw" }

func (p *WithdrawPayload) Message() apitypes.TypedDataMessage { return p.fields() }

func (p *WithdrawPayload) Validate() error { return p.validate() }

type PriceFeedPayload struct {
	Header
	Asset string `json:"asset"`
	Feed  string `json:"feed"`
}

func (p *PriceFeedPayload) PrimaryType() string { return "SetPriceFeed" }

func (p *PriceFeedPayload) Message() apitypes.TypedDataMessage {
	m := p.fields()
	m["asset"] = common.HexToAddress(p.Asset).Hex()
	m["feed"] = common.HexToAddress(p.Feed).Hex()
	return m
}

func (p *PriceFeedPayload) Validate() error {
	return firstErr(p.validate(), checkAddress("asset", p.Asset), checkAddress("feed", p.Feed))
}

type ApprovePayload struct {
	Header
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (p *ApprovePayload) PrimaryType() string { return "Approve" }

func (p *ApprovePayload) Message() apitypes.TypedDataMessage {
	m := p.fields()
	m["token"] = common.HexToAddress(p.Token).Hex()
	m["spender"] = common.HexToAddress(p.Spender).Hex()
	m["amount"] = p.Amount
	return m
}

func (p *ApprovePayload) Validate() error {
	return firstErr(p.validate(), checkAddress("token", p.Token), checkAddress("spender", p.Spender), checkUint("amount", p.Amount))
}

type ApproveTokenPayload struct {
	Header
	Token   string `json:"token"`
	Spender string `json:"spender"`
	TokenID string `json:"tokenId"`
}

func (p *ApproveTokenPayload) PrimaryType() string { return "ApproveToken" }

func (p *ApproveTokenPayload) Message() apitypes.TypedDataMessage {
	m := p.fields()
	m["token"] = common.HexToAddress(p.Token).Hex()
	m["spender"] = common.HexToAddress(p.Spender).Hex()
	m["tokenId"] = p.TokenID
	return m
}

func (p *ApproveTokenPayload) Validate() error {
	return firstErr(p.validate(), checkAddress("token", p.Token), checkAddress("spender", p.Spender), checkUint("tokenId", p.TokenID))
}

type OperatorPayload struct {
	Header
	Token    string `json:"token"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (p *OperatorPayload) PrimaryType() string { return "SetApprovalForAll" }

func (p *OperatorPayload) Message() apitypes.TypedDataMessage {
	m := p.fields()
	m["token"] = common.HexToAddress(p.Token).Hex()
	m["operator"] = common.HexToAddress(p.Operator).Hex()
	m["approved"] = p.Approved
	return m
}

func (p *OperatorPayload) Validate() error {
	return firstErr(p.validate(), checkAddress("token", p.Token), checkAddress("operator", p.Operator))
}

// SignedTransaction is the envelope of every state-changing request.
// Exactly one payload matching Type is set.
type SignedTransaction struct {
	Type              TxType               `json:"type"`
	List              *ListPayload         `json:"list,omitempty"`
	Cancel            *CancelPayload       `json:"cancel,omitempty"`
	Fulfill           *FulfillPayload      `json:"fulfill,omitempty"`
	Withdraw          *WithdrawPayload     `json:"withdraw,omitempty"`
	SetPriceFeed      *PriceFeedPayload    `json:"setPriceFeed,omitempty"`
	Approve           *ApprovePayload      `json:"approve,omitempty"`
	ApproveToken      *ApproveTokenPayload `json:"approveToken,omitempty"`
	SetApprovalForAll *OperatorPayload     `json:"setApprovalForAll,omitempty"`
	Signature         string               `json:"signature"` // Hex-encoded signature (0x...)
}

// NewTransaction wraps p in an unsigned envelope
func NewTransaction(p Payload) *SignedTransaction {
	tx := &SignedTransaction{}
	switch v := p.(type) {
	case *ListPayload:
		tx.Type, tx.List = TxTypeList, v
	case *CancelPayload:
		tx.Type, tx.Cancel = TxTypeCancel, v
	case *FulfillPayload:
		tx.Type, tx.Fulfill = TxTypeFulfill, v
	case *WithdrawPayload:
		tx.Type, tx.Withdraw = TxTypeWithdraw, v
	case *PriceFeedPayload:
		tx.Type, tx.SetPriceFeed = TxTypeSetPriceFeed, v
	case *ApprovePayload:
		tx.Type, tx.Approve = TxTypeApprove, v
	case *ApproveTokenPayload:
		tx.Type, tx.ApproveToken = TxTypeApproveToken, v
	case *OperatorPayload:
		tx.Type, tx.SetApprovalForAll = TxTypeSetApprovalForAll, v
	}
	return tx
}

// Payload returns the body selected by Type
func (tx *SignedTransaction) Payload() (Payload, error) {
	var p Payload
	switch tx.Type {
	case TxTypeList:
		if tx.List != nil {
			p = tx.List
		}
	case TxTypeCancel:
		if tx.Cancel != nil {
			p = tx.Cancel
		}
	case TxTypeFulfill:
		if tx.Fulfill != nil {
			p = tx.Fulfill
		}
	case TxTypeWithdraw:
		if tx.Withdraw != nil {
			p = tx.Withdraw
		}
	case TxTypeSetPriceFeed:
		if tx.SetPriceFeed != nil {
			p = tx.SetPriceFeed
		}
	case TxTypeApprove:
		if tx.Approve != nil {
			p = tx.Approve
		}
	case TxTypeApproveToken:
		if tx.ApproveToken != nil {
			p = tx.ApproveToken
		}
	case TxTypeSetApprovalForAll:
		if tx.SetApprovalForAll != nil {
			p = tx.SetApprovalForAll
		}
	case "":
		return nil, fmt.Errorf("%w: missing transaction type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown transaction type: %s", ErrMalformed, tx.Type)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s type requires %s payload", ErrMalformed, tx.Type, tx.Type)
	}
	return p, nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate performs structural validation, not signature checks
func (tx *SignedTransaction) Validate() error {
	p, err := tx.Payload()
	if err != nil {
		return err
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	return p.Validate()
}

// ParseTransaction parses and validates a JSON transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

func checkAddress(field, v string) error {
	if !common.IsHexAddress(v) {
		return fmt.Errorf("%w: %s is not an address: %q", ErrMalformed, field, v)
	}
	return nil
}

func checkUint(field, v string) error {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return fmt.Errorf("%w: %s is not a uint256: %q", ErrMalformed, field, v)
	}
	return nil
}

func checkUint64(field, v string) error {
	if _, err := strconv.ParseUint(v, 10, 64); err != nil {
		return fmt.Errorf("%w: %s is not a uint64: %q", ErrMalformed, field, v)
	}
	return nil
}

func checkInt64(field, v string) error {
	if n, err := strconv.ParseInt(v, 10, 64); err != nil || n < 0 {
		return fmt.Errorf("%w: %s is not a timestamp: %q", ErrMalformed, field, v)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func mustBig(v string) *big.Int {
	n, _ := new(big.Int).SetString(v, 10)
	if n == nil {
		return new(big.Int)
	}
	return n
}

func mustUint64(v string) uint64 {
	n, _ := strconv.ParseUint(v, 10, 64)
	return n
}

func mustInt64(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// Example:
//   {
//     "type": "fulfill",
//     "fulfill": {
//       "account": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "nonce": "3",
//       "eid": "1",
//       "payment": "11000000000000000000"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
