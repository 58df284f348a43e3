package commands

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/devrimkaya/flagship/internal/cli"
)

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	g := bindGlobal(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: flagship get [flags] <key>")
	}
	if err := requireProject(g); err != nil {
		return err
	}

	c, err := newClient(g)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agg, err := c.GetFlag(ctx, g.project, rest[0])
	if err != nil {
		return fmt.Errorf("get flag: %w", err)
	}
	return cli.PrintFlag(agg, g.outputFormat())
}
