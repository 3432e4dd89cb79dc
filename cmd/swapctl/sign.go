package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hyperbarter/pkg/api"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbarter/pkg/crypto"
)

// signingFlags are accepted by every command that sends a signed request
var signingFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "nonce",
		Usage: "request nonce; fetched from the node when omitted",
	},
	&cli.BoolFlag{
		Name:  "dry-run",
		Usage: "print the signed request instead of submitting it",
	},
	&cli.BoolFlag{
		Name:  "typed-data",
		Usage: "print the EIP-712 document to sign and exit",
	},
}

func withSigning(flags ...cli.Flag) []cli.Flag {
	return append(flags, signingFlags...)
}

func getSigner(ctx *cli.Context) (*crypto.Signer, error) {
	key := ctx.String("key")
	if key == "" {
		return nil, errors.New("missing --key (or SWAPCTL_KEY)")
	}
	return crypto.FromPrivateKeyHex(key)
}

// getDomain reads the signing domain the node verifies against
func getDomain(c *nodeClient) (crypto.EIP712Domain, error) {
	var info api.ExchangeInfo
	if err := c.get("/api/v1/info", &info); err != nil {
		return crypto.EIP712Domain{}, err
	}
	chainID, ok := new(big.Int).SetString(info.ChainID, 10)
	if !ok {
		return crypto.EIP712Domain{}, fmt.Errorf("node reported invalid chain id %q", info.ChainID)
	}
	return crypto.EIP712Domain{
		Name:              info.DomainName,
		Version:           info.Version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(info.Address),
	}, nil
}

func getNonce(ctx *cli.Context, c *nodeClient, addr common.Address) (string, error) {
	if v := ctx.String("nonce"); v != "" {
		if _, err := strconv.ParseUint(v, 10, 64); err != nil {
			return "", fmt.Errorf("invalid --nonce %q", v)
		}
		return v, nil
	}
	var acct api.AccountInfo
	if err := c.get("/api/v1/accounts/"+addr.Hex(), &acct); err != nil {
		return "", err
	}
	return strconv.FormatUint(acct.NextNonce, 10), nil
}

// submit builds the payload for the signer's next nonce, signs it and posts
// it to the node
func submit(ctx *cli.Context, build func(transaction.Header) transaction.Payload) error {
	signer, err := getSigner(ctx)
	if err != nil {
		return err
	}
	c := getClient(ctx)

	nonce, err := getNonce(ctx, c, signer.Address())
	if err != nil {
		return err
	}
	tx := transaction.NewTransaction(build(transaction.Header{
		Account: signer.Address().Hex(),
		Nonce:   nonce,
	}))

	if ctx.Bool("typed-data") {
		body, err := tx.Serialize()
		if err != nil {
			return err
		}
		var doc json.RawMessage
		if err := c.post("/api/v1/tx/typed-data", body, &doc); err != nil {
			return err
		}
		return printJSON(ctx, doc)
	}

	domain, err := getDomain(c)
	if err != nil {
		return err
	}
	if err := transaction.NewVerifier(domain).Sign(signer, tx); err != nil {
		return err
	}
	if ctx.Bool("dry-run") {
		return printJSON(ctx, tx)
	}

	body, err := tx.Serialize()
	if err != nil {
		return err
	}
	var resp api.SubmitTxResponse
	if err := c.post("/api/v1/tx", body, &resp); err != nil {
		return err
	}
	return printJSON(ctx, resp)
}

func requireAddress(ctx *cli.Context, name string) (string, error) {
	v := ctx.String(name)
	if !common.IsHexAddress(v) {
		return "", fmt.Errorf("--%s must be an address, got %q", name, v)
	}
	return common.HexToAddress(v).Hex(), nil
}

func requireUint(ctx *cli.Context, name string) (string, error) {
	v := ctx.String(name)
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("--%s must be a non-negative integer, got %q", name, v)
	}
	return n.String(), nil
}
