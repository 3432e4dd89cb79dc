package asset

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind classifies how an asset moves.
type Kind uint8

const (
	// Fungible assets are balance based; a Ref carries a quantity.
	Fungible Kind = iota
	// Unique assets are single-owner tokens; a Ref carries a token id.
	Unique
)

func (k Kind) String() string {
	switch k {
	case Fungible:
		return "fungible"
	case Unique:
		return "unique"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "fungible", "erc20":
		return Fungible, nil
	case "unique", "erc721":
		return Unique, nil
	default:
		return 0, fmt.Errorf("unknown asset kind %q", s)
	}
}

// Ref points at one leg of a swap. AmountOrTokenID is a quantity for
// fungible assets and a token id for unique ones; which one is decided by
// the resolver, never by the record.
type Ref struct {
	Asset           common.Address `json:"asset"`
	AmountOrTokenID *big.Int       `json:"amountOrTokenId"`
}

// NewRef builds a Ref, treating a nil amount as zero.
func NewRef(asset common.Address, amountOrTokenID *big.Int) Ref {
	if amountOrTokenID == nil {
		amountOrTokenID = new(big.Int)
	}
	return Ref{Asset: asset, AmountOrTokenID: new(big.Int).Set(amountOrTokenID)}
}

// IsZeroAsset reports whether the leg names the zero address.
func (r Ref) IsZeroAsset() bool { return r.Asset == (common.Address{}) }

// Amount returns a copy of AmountOrTokenID, never nil.
func (r Ref) Amount() *big.Int {
	if r.AmountOrTokenID == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.AmountOrTokenID)
}

// Clone returns a deep copy.
func (r Ref) Clone() Ref {
	return Ref{Asset: r.Asset, AmountOrTokenID: r.Amount()}
}

// Quantity is the number of units a leg moves: the amount for fungible
// assets, exactly one for unique tokens.
func (r Ref) Quantity(kind Kind) *big.Int {
	if kind == Unique {
		return big.NewInt(1)
	}
	return r.Amount()
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Asset.Hex(), r.Amount().String())
}
