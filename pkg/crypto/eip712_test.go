package crypto

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var testTypes = apitypes.Types{
	"Cancel": []apitypes.Type{
		{Name: "account", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "eid", Type: "uint256"},
	},
}

func testMessage(account common.Address, eid string) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"account": account.Hex(),
		"nonce":   "0",
		"eid":     eid,
	}
}

func TestEIP712SignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain(), testTypes)

	msg := testMessage(signer.Address(), "1")
	sig, err := e.Sign(signer, "Cancel", msg)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	recovered, err := e.Recover("Cancel", msg, sig)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	// tampered message recovers someone else
	recovered, err = e.Recover("Cancel", testMessage(signer.Address(), "2"), sig)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if recovered == signer.Address() {
		t.Error("tampered message should not recover the signer")
	}
}

func TestEIP712DomainSeparation(t *testing.T) {
	signer, _ := GenerateKey()
	msg := testMessage(signer.Address(), "1")

	local := NewEIP712Signer(DefaultDomain(), testTypes)
	mainnet := DefaultDomain()
	mainnet.ChainID = big.NewInt(1)
	other := NewEIP712Signer(mainnet, testTypes)

	h1, err := local.Hash("Cancel", msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := other.Hash("Cancel", msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(h1) != 32 {
		t.Errorf("digest length = %d, want 32", len(h1))
	}
	if string(h1) == string(h2) {
		t.Error("different chain ids must give different digests")
	}
}

func TestEIP712UnknownType(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain(), testTypes)
	if _, err := e.Hash("Order", apitypes.TypedDataMessage{}); err == nil {
		t.Error("unknown primary type should fail")
	}
}

func TestEIP712ToJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain(), testTypes)
	out, err := e.ToJSON("Cancel", testMessage(common.HexToAddress("0x01"), "7"))
	if err != nil {
		t.Fatalf("to json: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if parsed["primaryType"] != "Cancel" {
		t.Errorf("primaryType = %v, want Cancel", parsed["primaryType"])
	}
	types, _ := parsed["types"].(map[string]any)
	if _, ok := types["EIP712Domain"]; !ok {
		t.Error("missing EIP712Domain type")
	}
}
