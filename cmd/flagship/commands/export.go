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

// exportFile is the on-disk shape used by both export and import: a
// project's flag list, JSON-encoded. There's no YAML codec wired into
// this module, so unlike the teacher's export format, this is JSON-only.
type exportFile struct {
	ProjectKey string       `json:"project_key"`
	Flags      []store.Flag `json:"flags"`
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	g := bindGlobal(fs)
	output := fs.String("output", "", "output file path (default: stdout)")
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

	data, err := json.MarshalIndent(exportFile{ProjectKey: g.project, Flags: flags}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	data = append(data, '\n')

	if *output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", *output, err)
	}
	fmt.Printf("exported %d flags to %s\n", len(flags), *output)
	return nil
}
