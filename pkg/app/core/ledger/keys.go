package ledger

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger entries, stored under storage.LedgerKey(...):
//
//   nat:<holder>                  → native balance (wei)
//   tok:<token>                   → asset kind ("fungible" | "unique")
//   bal:<token>:<holder>          → fungible balance
//   alw:<token>:<owner>:<spender> → fungible allowance
//   own:<token>:<id>              → unique token owner
//   apr:<token>:<id>              → unique token approved spender
//   opr:<token>:<owner>:<op>      → operator approval ("1")

const (
	kindNative    = "nat"
	kindToken     = "tok"
	kindBalance   = "bal"
	kindAllowance = "alw"
	kindOwner     = "own"
	kindApproved  = "apr"
	kindOperator  = "opr"
)

func join(parts ...string) string { return strings.Join(parts, ":") }

func nativeKey(holder common.Address) string { return join(kindNative, holder.Hex()) }
func tokenKey(token common.Address) string   { return join(kindToken, token.Hex()) }

func balanceKey(token, holder common.Address) string {
	return join(kindBalance, token.Hex(), holder.Hex())
}

func allowanceKey(token, owner, spender common.Address) string {
	return join(kindAllowance, token.Hex(), owner.Hex(), spender.Hex())
}

func ownerKey(token common.Address, id *big.Int) string {
	return join(kindOwner, token.Hex(), id.String())
}

func approvedKey(token common.Address, id *big.Int) string {
	return join(kindApproved, token.Hex(), id.String())
}

func operatorKey(token, owner, operator common.Address) string {
	return join(kindOperator, token.Hex(), owner.Hex(), operator.Hex())
}
