package commands

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/devrimkaya/flagship/internal/cli"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	g := bindGlobal(fs)
	if err := fs.Parse(args); err != nil {
		return err
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

	flags, err := c.ListFlags(ctx, g.project)
	if err != nil {
		return fmt.Errorf("list flags: %w", err)
	}
	return cli.PrintFlags(flags, g.outputFormat())
}
