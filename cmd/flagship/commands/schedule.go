package commands

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/devrimkaya/flagship/internal/store"
)

func runSchedule(args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	g := bindGlobal(fs)
	environment := fs.String("environment", "", "environment key")
	kind := fs.String("kind", "", "enable or disable")
	at := fs.String("at", "", "RFC3339 timestamp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: flagship schedule --environment <env> --kind enable|disable --at <RFC3339> <key>")
	}
	if err := requireProject(g); err != nil {
		return err
	}
	if *environment == "" {
		return fmt.Errorf("--environment is required")
	}
	scheduleKind := store.ScheduleKind(*kind)
	if scheduleKind != store.ScheduleEnable && scheduleKind != store.ScheduleDisable {
		return fmt.Errorf("--kind must be %q or %q", store.ScheduleEnable, store.ScheduleDisable)
	}
	when, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("invalid --at: %w", err)
	}

	c, err := newClient(g)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.ScheduleFlag(ctx, g.project, rest[0], *environment, scheduleKind, when); err != nil {
		return fmt.Errorf("schedule flag: %w", err)
	}
	fmt.Printf("scheduled %q to %s in %s at %s\n", rest[0], scheduleKind, *environment, when.Format(time.RFC3339))
	return nil
}
