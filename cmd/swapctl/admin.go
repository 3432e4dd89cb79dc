package main

import (
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/transaction"
)

var withdraw = cli.Command{
	Name:  "withdraw",
	Usage: "sweep collected fees to the owner (owner only).",
	Flags: withSigning(),
	Action: func(ctx *cli.Context) error {
		return submit(ctx, func(h transaction.Header) transaction.Payload {
			return &transaction.WithdrawPayload{Header: h}
		})
	},
}

var setfeed = cli.Command{
	Name:  "setfeed",
	Usage: "register the price feed of an asset (owner only).",
	Flags: withSigning(
		&cli.StringFlag{Name: "asset", Usage: "asset to price", Required: true},
		&cli.StringFlag{Name: "feed", Usage: "price feed handle", Required: true},
	),
	Action: func(ctx *cli.Context) error {
		a, err := requireAddress(ctx, "asset")
		if err != nil {
			return err
		}
		feed, err := requireAddress(ctx, "feed")
		if err != nil {
			return err
		}
		return submit(ctx, func(h transaction.Header) transaction.Payload {
			return &transaction.PriceFeedPayload{Header: h, Asset: a, Feed: feed}
		})
	},
}
