package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/deployments
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "HyperBarter")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Exchange address
}

// DefaultDomain returns the default EIP-712 domain for HyperBarter
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "HyperBarter",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// EIP712Signer hashes, signs and recovers typed messages of a fixed set of
// struct types under one domain.
type EIP712Signer struct {
	domain EIP712Domain
	types  apitypes.Types
}

// NewEIP712Signer creates a signer for the given struct types
// (EIP712Domain is added automatically)
func NewEIP712Signer(domain EIP712Domain, types apitypes.Types) *EIP712Signer {
	all := apitypes.Types{"EIP712Domain": domainType}
	for name, fields := range types {
		all[name] = fields
	}
	return &EIP712Signer{domain: domain, types: all}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// TypedData builds the full eth_signTypedData_v4 payload for a message
func (e *EIP712Signer) TypedData(primaryType string, message apitypes.TypedDataMessage) (apitypes.TypedData, error) {
	if _, ok := e.types[primaryType]; !ok {
		return apitypes.TypedData{}, fmt.Errorf("unknown primary type %q", primaryType)
	}
	return apitypes.TypedData{
		Types:       e.types,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: message,
	}, nil
}

// Hash returns the EIP-712 digest of a message
// keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func (e *EIP712Signer) Hash(primaryType string, message apitypes.TypedDataMessage) ([]byte, error) {
	typedData, err := e.TypedData(primaryType, message)
	if err != nil {
		return nil, err
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// Sign hashes and signs a message
func (e *EIP712Signer) Sign(signer *Signer, primaryType string, message apitypes.TypedDataMessage) ([]byte, error) {
	hash, err := e.Hash(primaryType, message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", primaryType, err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", primaryType, err)
	}
	return signature, nil
}

// Recover returns the address that signed a message
func (e *EIP712Signer) Recover(primaryType string, message apitypes.TypedDataMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(primaryType, message)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash %s: %w", primaryType, err)
	}
	return RecoverAddress(hash, signature)
}

// ToJSON renders the typed data for wallets (MetaMask eth_signTypedData_v4)
func (e *EIP712Signer) ToJSON(primaryType string, message apitypes.TypedDataMessage) (string, error) {
	typedData, err := e.TypedData(primaryType, message)
	if err != nil {
		return "", err
	}
	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
