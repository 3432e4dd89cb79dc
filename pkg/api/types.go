package api

import (
	"math/big"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/order"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/settlement"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// LegInfo is one side of an order
type LegInfo struct {
	Asset           string `json:"asset"`
	AmountOrTokenID string `json:"amountOrTokenId"`
}

// OrderInfo is an order slot. Empty slots are returned with status
// "cancelled" and zero fields so pages keep their fixed width.
type OrderInfo struct {
	EID       uint64  `json:"eid"`
	Seller    string  `json:"seller"`
	Buyer     string  `json:"buyer"`
	ToSell    LegInfo `json:"toSell"`
	ToFulfill LegInfo `json:"toFulfill"`
	Fulfilled bool    `json:"fulfilled"`
	Deadline  int64   `json:"deadline"` // Unix seconds
	Status    string  `json:"status"`   // "active" | "expired" | "fulfilled" | "cancelled"
}

// OrdersPage is the response of GET /api/v1/orders
type OrdersPage struct {
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
	LastID   uint64      `json:"lastId"`
	Orders   []OrderInfo `json:"orders"`
}

// FeeQuote is what a buyer must attach to fulfill an order
type FeeQuote struct {
	EID      uint64 `json:"eid"`
	Fee      string `json:"fee"`      // wei
	FeeEther string `json:"feeEther"` // display only
	Quantity string `json:"quantity"`
	Kind     string `json:"kind"`
	Answer   string `json:"answer"`
	Decimals uint8  `json:"decimals"`
	FeeRate  string `json:"feeRate"`
}

// FeedInfo is a price feed registry entry with its latest answer. Price
// fields are empty when the feed could not be read.
type FeedInfo struct {
	Asset     string `json:"asset"`
	Feed      string `json:"feed"`
	Answer    string `json:"answer,omitempty"`
	Decimals  uint8  `json:"decimals,omitempty"`
	Price     string `json:"price,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TreasuryInfo is the fee balance held by the exchange
type TreasuryInfo struct {
	Owner   string `json:"owner"`
	Balance string `json:"balance"` // wei
	Ether   string `json:"ether"`
	FeeRate string `json:"feeRate"`
}

// AccountInfo is the native balance and the next nonce to sign with
type AccountInfo struct {
	Address   string `json:"address"`
	Balance   string `json:"balance"` // wei
	Ether     string `json:"ether"`
	NextNonce uint64 `json:"nextNonce"`
}

// TokenBalance is a fungible balance together with the allowance granted
// to the exchange
type TokenBalance struct {
	Token     string `json:"token"`
	Holder    string `json:"holder"`
	Kind      string `json:"kind"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// TokenOwner is the owner of a unique token and whether the exchange may
// move it
type TokenOwner struct {
	Token    string `json:"token"`
	TokenID  string `json:"tokenId"`
	Owner    string `json:"owner"`
	Approved bool   `json:"approved"`
}

// ExchangeInfo describes the node's exchange and signing domain
type ExchangeInfo struct {
	Owner       string `json:"owner"`
	Address     string `json:"address"`
	FeeRate     string `json:"feeRate"`
	PageSize    int    `json:"pageSize"`
	LastOrderID uint64 `json:"lastOrderId"`
	ChainID     string `json:"chainId"`
	DomainName  string `json:"domainName"`
	Version     string `json:"version"`
	Now         int64  `json:"now"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "event", "subscribed", "error"
	Data interface{} `json:"data"` // Type-specific payload
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "order:12", "account:0x..."]
}

// ==============================
// REST Request Types
// ==============================

// State-changing requests are EIP-712 signed envelopes posted to
// /api/v1/tx. See pkg/app/core/transaction for the format.

// FaucetRequest credits devnet balances. Exactly one of the forms applies:
// empty Token credits native units, otherwise Kind selects a fungible mint
// of Amount or a unique mint of TokenID.
type FaucetRequest struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
	Kind    string `json:"kind,omitempty"` // "fungible" | "unique"
	Amount  string `json:"amount,omitempty"`
	TokenID string `json:"tokenId,omitempty"`
}

// SubmitTxResponse is the response from POST /api/v1/tx
type SubmitTxResponse struct {
	Status string      `json:"status"` // "executed"
	Result interface{} `json:"result"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// Conversions
// ==============================

func toLegInfo(r asset.Ref) LegInfo {
	return LegInfo{Asset: r.Asset.Hex(), AmountOrTokenID: r.Amount().String()}
}

func toOrderInfo(o order.Order, now int64) OrderInfo {
	return OrderInfo{
		EID:       o.EID,
		Seller:    o.Seller.Hex(),
		Buyer:     o.Buyer.Hex(),
		ToSell:    toLegInfo(o.ToSell),
		ToFulfill: toLegInfo(o.ToFulfill),
		Fulfilled: o.Fulfilled,
		Deadline:  o.Deadline,
		Status:    string(o.Status(now)),
	}
}

func toOrderInfos(orders []order.Order, now int64) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = toOrderInfo(o, now)
	}
	return out
}

func toFeeQuote(eid uint64, q settlement.Quote, rate string) FeeQuote {
	return FeeQuote{
		EID:      eid,
		Fee:      q.Fee.String(),
		FeeEther: settlement.FormatWei(q.Fee),
		Quantity: q.Quantity.String(),
		Kind:     q.Kind.String(),
		Answer:   bigString(q.Price.Answer),
		Decimals: q.Price.Decimals,
		FeeRate:  rate,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
