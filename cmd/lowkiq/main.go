package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/ifnotnil/lowkiq"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "unknown"

func main() {
	root := newRootCommand(run)

	if err := root.Run(context.Background(), os.Args); err != nil {
		os.Exit(lowkiq.ExitCode(err))
	}
}

func newRootCommand(action func(ctx context.Context, opts runOptions) error) *cli.Command {
	return &cli.Command{
		Name:  "lowkiq",
		Usage: "run the lowkiq worker server",
		Flags: flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts, err := parseRunOptions(cmd)
			if err != nil {
				fmt.Fprintf(cmd.Root().ErrWriter, "Error: %s\n", err)
				return err
			}
			return action(ctx, opts)
		},
		Commands: []*cli.Command{
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Program version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprintln(cmd.Root().Writer, Version)
			return nil
		},
	}
}
