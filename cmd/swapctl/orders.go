package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hyperbarter/pkg/api"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/transaction"
)

var listorder = cli.Command{
	Name:  "list",
	Usage: "list an order offering one asset for another.",
	Flags: withSigning(
		&cli.StringFlag{Name: "sell", Usage: "asset the seller gives", Required: true},
		&cli.StringFlag{Name: "sell-amount", Usage: "amount, or token id of a unique asset", Required: true},
		&cli.StringFlag{Name: "want", Usage: "asset the seller asks for", Required: true},
		&cli.StringFlag{Name: "want-amount", Usage: "amount, or token id of a unique asset", Required: true},
		&cli.DurationFlag{Name: "ttl", Usage: "time until the order expires", Value: 24 * time.Hour},
		&cli.Int64Flag{Name: "deadline", Usage: "absolute deadline in unix seconds, overrides --ttl"},
	),
	Action: listOrderAction,
}

func listOrderAction(ctx *cli.Context) error {
	sell, err := requireAddress(ctx, "sell")
	if err != nil {
		return err
	}
	sellAmount, err := requireUint(ctx, "sell-amount")
	if err != nil {
		return err
	}
	want, err := requireAddress(ctx, "want")
	if err != nil {
		return err
	}
	wantAmount, err := requireUint(ctx, "want-amount")
	if err != nil {
		return err
	}
	deadline := ctx.Int64("deadline")
	if deadline == 0 {
		deadline = time.Now().Add(ctx.Duration("ttl")).Unix()
	}

	return submit(ctx, func(h transaction.Header) transaction.Payload {
		return &transaction.ListPayload{
			Header:        h,
			SellAsset:     sell,
			SellAmount:    sellAmount,
			FulfillAsset:  want,
			FulfillAmount: wantAmount,
			Deadline:      strconv.FormatInt(deadline, 10),
		}
	})
}

var cancelorder = cli.Command{
	Name:      "cancel",
	Usage:     "cancel one of your active orders.",
	ArgsUsage: "<eid>",
	Flags:     withSigning(),
	Action: func(ctx *cli.Context) error {
		eid, err := eidArg(ctx)
		if err != nil {
			return err
		}
		return submit(ctx, func(h transaction.Header) transaction.Payload {
			return &transaction.CancelPayload{Header: h, EID: eid}
		})
	},
}

var fulfillorder = cli.Command{
	Name:      "fulfill",
	Usage:     "fulfill an order, attaching the platform fee.",
	ArgsUsage: "<eid>",
	Flags: withSigning(
		&cli.StringFlag{Name: "payment", Usage: "attached payment in wei; defaults to the quoted fee"},
	),
	Action: fulfillAction,
}

func fulfillAction(ctx *cli.Context) error {
	eid, err := eidArg(ctx)
	if err != nil {
		return err
	}

	payment := ctx.String("payment")
	if payment == "" {
		var q api.FeeQuote
		if err := getClient(ctx).get("/api/v1/orders/"+eid+"/fee", &q); err != nil {
			return err
		}
		payment = q.Fee
		fmt.Fprintf(ctx.App.ErrWriter, "attaching quoted fee %s wei (%s ether)\n", q.Fee, q.FeeEther)
	} else if payment, err = requireUint(ctx, "payment"); err != nil {
		return err
	}

	return submit(ctx, func(h transaction.Header) transaction.Payload {
		return &transaction.FulfillPayload{Header: h, EID: eid, Payment: payment}
	})
}

var getorder = cli.Command{
	Name:      "order",
	Usage:     "show one order slot and its events.",
	ArgsUsage: "<eid>",
	Action: func(ctx *cli.Context) error {
		eid, err := eidArg(ctx)
		if err != nil {
			return err
		}
		c := getClient(ctx)
		var o, events json.RawMessage
		if err := c.get("/api/v1/orders/"+eid, &o); err != nil {
			return err
		}
		if err := c.get("/api/v1/orders/"+eid+"/events", &events); err != nil {
			return err
		}
		return printJSON(ctx, map[string]json.RawMessage{"order": o, "events": events})
	},
}

var listorders = cli.Command{
	Name:  "orders",
	Usage: "list order slots page by page, or only the open ones.",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "page", Usage: "1-based page", Value: 1},
		&cli.BoolFlag{Name: "open", Usage: "only orders that can still be fulfilled"},
	},
	Action: func(ctx *cli.Context) error {
		path := "/api/v1/orders?page=" + strconv.Itoa(ctx.Int("page"))
		if ctx.Bool("open") {
			path = "/api/v1/orders/open"
		}
		var out json.RawMessage
		if err := getClient(ctx).get(path, &out); err != nil {
			return err
		}
		return printJSON(ctx, out)
	},
}

var quotefee = cli.Command{
	Name:      "fee",
	Usage:     "quote the platform fee of an order.",
	ArgsUsage: "<eid>",
	Action: func(ctx *cli.Context) error {
		eid, err := eidArg(ctx)
		if err != nil {
			return err
		}
		var q api.FeeQuote
		if err := getClient(ctx).get("/api/v1/orders/"+eid+"/fee", &q); err != nil {
			return err
		}
		return printJSON(ctx, q)
	},
}

func eidArg(ctx *cli.Context) (string, error) {
	v := ctx.Args().First()
	eid, err := strconv.ParseUint(v, 10, 64)
	if err != nil || eid == 0 {
		return "", fmt.Errorf("expected an order id, got %q", v)
	}
	return strconv.FormatUint(eid, 10), nil
}
