package storage

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage
//
//   ord:<eid>          → Order (eid zero-padded to 20 digits)
//   seq:order          → last assigned order id
//   seq:event          → last assigned event sequence
//   feed:<asset>       → price feed handle
//   treasury           → accumulated fees (wei, decimal string)
//   evt:<seq>          → Event (seq zero-padded to 20 digits)
//   nonce:<address>    → next expected request nonce
//   lg:<kind>:<...>    → asset ledger entries

// Key prefixes
const (
	prefixOrder  = "ord:"
	prefixFeed   = "feed:"
	prefixEvent  = "evt:"
	prefixNonce  = "nonce:"
	prefixLedger = "lg:"
)

// OrderKey returns the key for an order slot
// Format: "ord:{eid:020d}" so slots iterate in id order
func OrderKey(eid uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, eid))
}

// OrderPrefix returns the prefix shared by all order slots
func OrderPrefix() []byte { return []byte(prefixOrder) }

func OrderSeqKey() []byte { return []byte("seq:order") }

func EventSeqKey() []byte { return []byte("seq:event") }

func TreasuryKey() []byte { return []byte("treasury") }

// FeedKey returns the key for an asset's price feed handle
// Format: "feed:{asset}"
func FeedKey(asset common.Address) []byte {
	return []byte(prefixFeed + asset.Hex())
}

func FeedPrefix() []byte { return []byte(prefixFeed) }

// EventKey returns the key for an event log entry
// Format: "evt:{seq:020d}"
func EventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func EventPrefix() []byte { return []byte(prefixEvent) }

// NonceKey returns the key for an account's next request nonce
// Format: "nonce:{address}"
func NonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

// LedgerKey joins parts under the ledger prefix
// Example: LedgerKey("bal", token, holder) → "lg:bal:0xToken:0xHolder"
func LedgerKey(parts ...string) []byte {
	return []byte(prefixLedger + strings.Join(parts, ":"))
}

func LedgerPrefix() []byte { return []byte(prefixLedger) }

// KeyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ord:" -> upper bound "ord;" (next byte after ':')
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
