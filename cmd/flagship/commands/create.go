package commands

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devrimkaya/flagship/internal/client"
	"github.com/devrimkaya/flagship/internal/snapshot"
	"github.com/devrimkaya/flagship/internal/store"
)

// variantFlags collects repeated --variant key:name:weight arguments into
// a []store.FlagVariant, in source order.
type variantFlags struct {
	variants []store.FlagVariant
}

func (v *variantFlags) String() string { return "" }

func (v *variantFlags) Set(s string) error {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("expected key:name:weight, got %q", s)
	}
	weight, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("invalid weight in %q: %w", s, err)
	}
	v.variants = append(v.variants, store.FlagVariant{
		Key: parts[0], Name: parts[1], Weight: weight, Position: len(v.variants),
	})
	return nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	g := bindGlobal(fs)
	name := fs.String("name", "", "display name")
	description := fs.String("description", "", "description")
	flagType := fs.String("type", string(snapshot.TypeBoolean), "flag type: boolean, percentage, variant or segment")
	tags := fs.String("tags", "", "comma-separated tags")
	permanent := fs.Bool("permanent", false, "mark flag as permanent (never auto-archived)")
	owner := fs.String("owner", "", "owner email")
	var variants variantFlags
	fs.Var(&variants, "variant", "key:name:weight, repeatable")

	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: flagship create [flags] <key>")
	}
	if err := requireProject(g); err != nil {
		return err
	}

	c, err := newClient(g)
	if err != nil {
		return err
	}

	var tagList []string
	if *tags != "" {
		for _, t := range strings.Split(*tags, ",") {
			tagList = append(tagList, strings.TrimSpace(t))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return createFlag(ctx, c, g.project, rest[0], *name, *description, *flagType, tagList, *permanent, *owner, variants.variants)
}

func createFlag(ctx context.Context, c *client.Client, project, key, name, description, flagType string, tags []string, permanent bool, owner string, variants []store.FlagVariant) error {
	params := store.UpsertFlagParams{
		ProjectKey:  project,
		Key:         key,
		Name:        name,
		Description: description,
		Type:        snapshot.Type(flagType),
		Tags:        tags,
		Permanent:   permanent,
		OwnerEmail:  owner,
		Variants:    variants,
	}
	if err := c.UpsertFlag(ctx, params); err != nil {
		return fmt.Errorf("create flag: %w", err)
	}
	fmt.Printf("created flag %q\n", key)
	return nil
}
