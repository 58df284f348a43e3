package commands

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func runArchive(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	g := bindGlobal(fs)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: flagship archive [--force] <key>")
	}
	if err := requireProject(g); err != nil {
		return err
	}

	if !*force {
		confirmed, err := confirm(fmt.Sprintf("archive flag %q in project %q? [y/N] ", rest[0], g.project))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("aborted")
			return nil
		}
	}

	c, err := newClient(g)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.ArchiveFlag(ctx, g.project, rest[0]); err != nil {
		return fmt.Errorf("archive flag: %w", err)
	}
	fmt.Printf("archived flag %q\n", rest[0])
	return nil
}

func confirm(prompt string) (bool, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
