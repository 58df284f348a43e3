package commands

import (
	"context"
	"flag"
	"fmt"
	"time"
)

func runToggle(args []string) error {
	fs := flag.NewFlagSet("toggle", flag.ContinueOnError)
	g := bindGlobal(fs)
	environment := fs.String("environment", "", "environment key")
	enable := fs.Bool("enable", false, "enable the flag")
	disable := fs.Bool("disable", false, "disable the flag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: flagship toggle --environment <env> --enable|--disable <key>")
	}
	if err := requireProject(g); err != nil {
		return err
	}
	if *environment == "" {
		return fmt.Errorf("--environment is required")
	}
	if *enable == *disable {
		return fmt.Errorf("exactly one of --enable or --disable is required")
	}

	c, err := newClient(g)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.ToggleFlag(ctx, g.project, rest[0], *environment, *enable); err != nil {
		return fmt.Errorf("toggle flag: %w", err)
	}
	fmt.Printf("flag %q is now %s in %s\n", rest[0], enabledWord(*enable), *environment)
	return nil
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
