package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/crypto"
)

// Verifier handles request signing and signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a verifier for requests signed under domain
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain, Types)}
}

func (v *Verifier) Domain() crypto.EIP712Domain { return v.eip712Signer.Domain() }

// Sign fills tx.Signature. The signer must be the payload's account.
func (v *Verifier) Sign(signer *crypto.Signer, tx *SignedTransaction) error {
	p, err := tx.Payload()
	if err != nil {
		return err
	}
	if p.Head().AccountAddress() != signer.Address() {
		return fmt.Errorf("signer %s is not the request account %s", signer.Address().Hex(), p.Head().Account)
	}

	sig, err := v.eip712Signer.Sign(signer, p.PrimaryType(), p.Message())
	if err != nil {
		return err
	}
	tx.Signature = crypto.EncodeSignature(sig)
	return nil
}

// Verify checks tx's structure and signature and returns the signing account
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	if err := tx.Validate(); err != nil {
		return common.Address{}, err
	}
	p, err := tx.Payload()
	if err != nil {
		return common.Address{}, err
	}

	sigBytes, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	recovered, err := v.eip712Signer.Recover(p.PrimaryType(), p.Message(), sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	account := p.Head().AccountAddress()
	if recovered != account {
		return common.Address{}, fmt.Errorf("%w: signed by %s, account is %s", ErrInvalidSignature, recovered.Hex(), account.Hex())
	}
	return account, nil
}

// TypedDataJSON renders the request for wallet signing
func (v *Verifier) TypedDataJSON(tx *SignedTransaction) (string, error) {
	p, err := tx.Payload()
	if err != nil {
		return "", err
	}
	return v.eip712Signer.ToJSON(p.PrimaryType(), p.Message())
}
