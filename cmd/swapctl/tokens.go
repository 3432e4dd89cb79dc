package main

import (
	"encoding/json"

	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hyperbarter/pkg/api"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/transaction"
)

// spenderFlag defaults to the exchange itself, the account that moves
// assets at settlement
var spenderFlag = &cli.StringFlag{Name: "spender", Usage: "approved account (default: the exchange)"}

func getSpender(ctx *cli.Context) (string, error) {
	if ctx.String("spender") != "" {
		return requireAddress(ctx, "spender")
	}
	var info api.ExchangeInfo
	if err := getClient(ctx).get("/api/v1/info", &info); err != nil {
		return "", err
	}
	return info.Address, nil
}

var approve = cli.Command{
	Name:  "approve",
	Usage: "set the allowance of a fungible token.",
	Flags: withSigning(
		&cli.StringFlag{Name: "token", Required: true},
		&cli.StringFlag{Name: "amount", Required: true},
		spenderFlag,
	),
	Action: func(ctx *cli.Context) error {
		token, err := requireAddress(ctx, "token")
		if err != nil {
			return err
		}
		amount, err := requireUint(ctx, "amount")
		if err != nil {
			return err
		}
		spender, err := getSpender(ctx)
		if err != nil {
			return err
		}
		return submit(ctx, func(h transaction.Header) transaction.Payload {
			return &transaction.ApprovePayload{Header: h, Token: token, Spender: spender, Amount: amount}
		})
	},
}

var approvetoken = cli.Command{
	Name:  "approvetoken",
	Usage: "approve one unique token.",
	Flags: withSigning(
		&cli.StringFlag{Name: "token", Required: true},
		&cli.StringFlag{Name: "id", Usage: "token id", Required: true},
		spenderFlag,
	),
	Action: func(ctx *cli.Context) error {
		token, err := requireAddress(ctx, "token")
		if err != nil {
			return err
		}
		id, err := requireUint(ctx, "id")
		if err != nil {
			return err
		}
		spender, err := getSpender(ctx)
		if err != nil {
			return err
		}
		return submit(ctx, func(h transaction.Header) transaction.Payload {
			return &transaction.ApproveTokenPayload{Header: h, Token: token, Spender: spender, TokenID: id}
		})
	},
}

var setapprovalforall = cli.Command{
	Name:  "setapprovalforall",
	Usage: "grant or revoke an operator over a whole unique collection.",
	Flags: withSigning(
		&cli.StringFlag{Name: "token", Required: true},
		&cli.BoolFlag{Name: "revoke", Usage: "revoke instead of grant"},
		spenderFlag,
	),
	Action: func(ctx *cli.Context) error {
		token, err := requireAddress(ctx, "token")
		if err != nil {
			return err
		}
		operator, err := getSpender(ctx)
		if err != nil {
			return err
		}
		approved := !ctx.Bool("revoke")
		return submit(ctx, func(h transaction.Header) transaction.Payload {
			return &transaction.OperatorPayload{Header: h, Token: token, Operator: operator, Approved: approved}
		})
	},
}

var faucet = cli.Command{
	Name:  "faucet",
	Usage: "mint devnet balances (nodes with DEV_FAUCET=true only).",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "to", Required: true},
		&cli.StringFlag{Name: "token", Usage: "token to mint; native units when omitted"},
		&cli.StringFlag{Name: "kind", Usage: "fungible or unique", Value: "fungible"},
		&cli.StringFlag{Name: "amount"},
		&cli.StringFlag{Name: "id", Usage: "token id of a unique mint"},
	},
	Action: func(ctx *cli.Context) error {
		req := api.FaucetRequest{
			Address: ctx.String("to"),
			Token:   ctx.String("token"),
			Amount:  ctx.String("amount"),
			TokenID: ctx.String("id"),
		}
		if req.Token != "" {
			req.Kind = ctx.String("kind")
		}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		var out json.RawMessage
		if err := getClient(ctx).post("/api/v1/faucet", body, &out); err != nil {
			return err
		}
		return printJSON(ctx, out)
	},
}
