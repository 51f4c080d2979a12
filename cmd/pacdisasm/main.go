package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	cli "github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "pacdisasm"
	app.Usage = "Disassembler, CFG builder, and binary-diff matcher for PAC bytecode blobs"
	app.Action = func(c *cli.Context) error {
		cli.ShowAppHelp(c)
		return nil
	}
	app.Commands = []*cli.Command{
		catalogCommand(),
		disasmCommand(),
		cfgCommand(),
		matchCommand(),
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliContext builds the cooperative-cancellation boundary: cancelable on
// os.Interrupt, threaded through the pipeline call but never used for
// internal concurrency (the core stays single-threaded and synchronous).
func cliContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
