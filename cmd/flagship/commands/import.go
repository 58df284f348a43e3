package commands

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/devrimkaya/flagship/internal/store"
)

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	g := bindGlobal(fs)
	dryRun := fs.Bool("dry-run", false, "print what would be imported without making changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: flagship import [flags] <file>")
	}

	data, err := os.ReadFile(rest[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", rest[0], err)
	}
	var file exportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", rest[0], err)
	}

	project := g.project
	if project == "" {
		project = file.ProjectKey
	}
	if project == "" {
		return fmt.Errorf("--project is required when the import file has no project_key")
	}

	if *dryRun {
		for _, f := range file.Flags {
			fmt.Printf("would import %q (%s)\n", f.Key, f.Type)
		}
		return nil
	}

	c, err := newClient(g)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	imported := 0
	for _, f := range file.Flags {
		params := store.UpsertFlagParams{
			ProjectKey:  project,
			Key:         f.Key,
			Name:        f.Name,
			Description: f.Description,
			Type:        f.Type,
			Tags:        f.Tags,
			Permanent:   f.Permanent,
			OwnerEmail:  f.OwnerEmail,
		}
		if err := c.UpsertFlag(ctx, params); err != nil {
			return fmt.Errorf("import flag %q: %w", f.Key, err)
		}
		imported++
	}
	fmt.Printf("imported %d flags into %q\n", imported, project)
	return nil
}
