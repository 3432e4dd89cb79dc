package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[swapctl] %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Name = "swapctl"
	app.Version = "0.1.0"
	app.Usage = "Command line client for hyperbarter nodes"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "node",
			Usage:   "base URL of the node API",
			Value:   "http://localhost:8080",
			EnvVars: []string{"SWAPCTL_NODE"},
		},
		&cli.StringFlag{
			Name:    "key",
			Usage:   "hex private key used to sign requests",
			EnvVars: []string{"SWAPCTL_KEY"},
		},
	}
	app.Commands = append(
		app.Commands,
		&keygen,
		&info,
		&account,
		&listorder,
		&cancelorder,
		&fulfillorder,
		&getorder,
		&listorders,
		&quotefee,
		&withdraw,
		&setfeed,
		&approve,
		&approvetoken,
		&setapprovalforall,
		&faucet,
	)
	return app
}
