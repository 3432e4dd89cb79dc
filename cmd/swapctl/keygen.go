package main

import (
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hyperbarter/pkg/crypto"
)

var keygen = cli.Command{
	Name:   "keygen",
	Usage:  "generate a new signing key.",
	Action: keygenAction,
}

func keygenAction(ctx *cli.Context) error {
	signer, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	return printJSON(ctx, map[string]string{
		"address":    signer.Address().Hex(),
		"privateKey": signer.PrivateKeyHex(),
	})
}

var info = cli.Command{
	Name:  "info",
	Usage: "show the exchange configuration of the node.",
	Action: func(ctx *cli.Context) error {
		var out map[string]interface{}
		if err := getClient(ctx).get("/api/v1/info", &out); err != nil {
			return err
		}
		return printJSON(ctx, out)
	},
}

var account = cli.Command{
	Name:      "account",
	Usage:     "show native balance and next nonce of an address (default: --key).",
	ArgsUsage: "[address]",
	Action:    accountAction,
}

func accountAction(ctx *cli.Context) error {
	addr := ctx.Args().First()
	if addr == "" {
		signer, err := getSigner(ctx)
		if err != nil {
			return err
		}
		addr = signer.Address().Hex()
	}
	var out map[string]interface{}
	if err := getClient(ctx).get("/api/v1/accounts/"+addr, &out); err != nil {
		return err
	}
	return printJSON(ctx, out)
}
