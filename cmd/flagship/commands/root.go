// Package commands implements the flagship command-line tool as a small,
// hand-rolled dispatcher over flag.FlagSet — grounded on the teacher's own
// go.mod, which never pulled in a CLI framework, and on SPEC_FULL.md's
// decision that the admin CLI stays dependency-free the same way.
package commands

import (
	"flag"
	"fmt"
	"os"

	"github.com/devrimkaya/flagship/internal/cli"
	"github.com/devrimkaya/flagship/internal/client"
)

const usage = `flagship is a command-line tool for managing feature flags.

Usage:
  flagship <command> [arguments]

Commands:
  config init             write a default config file
  config list              list configured environments
  config get <env.key>     print one config value
  config set <env.key> <v> set one config value
  create <key>              create a flag
  get <key>                 show one flag
  list                      list flags in a project
  toggle <key>              enable or disable a flag in an environment
  schedule <key>            arm a future enable/disable transition
  archive <key>             archive a flag
  export                    export flags to a JSON file
  import <file>             import flags from a JSON file

Global flags (accepted by every command except config):
  --base-url   base URL of the flagship API (overrides config file)
  --api-key    admin API key (overrides config file)
  --env        named environment from ~/.flagship/config.json
  --project    project key
  --format     output format: table (default) or json
`

// Execute parses os.Args and dispatches to the matching subcommand. It is
// the hand-rolled equivalent of a cobra rootCmd.Execute().
func Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("no command given")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	case "config":
		return runConfig(rest)
	case "create":
		return runCreate(rest)
	case "get":
		return runGet(rest)
	case "list":
		return runList(rest)
	case "toggle":
		return runToggle(rest)
	case "schedule":
		return runSchedule(rest)
	case "archive":
		return runArchive(rest)
	case "export":
		return runExport(rest)
	case "import":
		return runImport(rest)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// globalFlags holds the flags shared by every API-calling subcommand.
type globalFlags struct {
	baseURL string
	apiKey  string
	env     string
	project string
	format  string
}

// bindGlobal registers the shared flags on fs and returns the struct they
// populate once fs.Parse has run.
func bindGlobal(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.baseURL, "base-url", "", "base URL of the flagship API")
	fs.StringVar(&g.apiKey, "api-key", "", "admin API key")
	fs.StringVar(&g.env, "env", "", "named environment from ~/.flagship/config.json")
	fs.StringVar(&g.project, "project", "", "project key")
	fs.StringVar(&g.format, "format", "table", "output format: table or json")
	return g
}

// newClient resolves base URL and API key (flags > env vars > config file,
// via internal/cli.GetEnvConfig) and returns a ready-to-use API client.
func newClient(g *globalFlags) (*client.Client, error) {
	envCfg, _, err := cli.GetEnvConfig(g.env, g.baseURL, g.apiKey)
	if err != nil {
		return nil, err
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), nil
}

func (g *globalFlags) outputFormat() cli.OutputFormat {
	if g.format == "json" {
		return cli.FormatJSON
	}
	return cli.FormatTable
}

func requireProject(g *globalFlags) error {
	if g.project == "" {
		return fmt.Errorf("--project is required")
	}
	return nil
}
