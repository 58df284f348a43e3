package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/devrimkaya/flagship/internal/client"
	"github.com/devrimkaya/flagship/internal/store"
)

// OutputFormat specifies the output format for CLI commands. Table is the
// interactive default; JSON is for scripting. There is no YAML format:
// nothing else in this module needs a YAML codec, so the CLI renders
// table or JSON with encoding/json and text/tabwriter alone.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// PrintFlags outputs a flag list in the specified format.
func PrintFlags(flags []store.Flag, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]store.Flag{"flags": flags})
	case FormatTable:
		return printFlagsTable(flags)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintFlag outputs one flag's full admin view (flag, variants,
// per-environment status) in the specified format.
func PrintFlag(detail *client.FlagDetail, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(detail)
	case FormatTable:
		return printFlagDetailTable(detail)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printFlagsTable(flags []store.Flag) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tTYPE\tTAGS\tARCHIVED\tUPDATED AT")
	for _, f := range flags {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			f.Key, f.Name, f.Type, strings.Join(f.Tags, ","), f.Archived,
			f.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func printFlagDetailTable(detail *client.FlagDetail) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "key\t%s\n", detail.Key)
	fmt.Fprintf(tw, "name\t%s\n", detail.Name)
	fmt.Fprintf(tw, "type\t%s\n", detail.Type)
	fmt.Fprintf(tw, "description\t%s\n", truncate(detail.Description, 60))
	fmt.Fprintf(tw, "tags\t%s\n", strings.Join(detail.Tags, ","))
	fmt.Fprintf(tw, "archived\t%t\n", detail.Archived)
	fmt.Fprintf(tw, "updated_at\t%s\n", detail.UpdatedAt)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(detail.Variants) > 0 {
		fmt.Println()
		vtw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(vtw, "VARIANT\tNAME\tWEIGHT")
		for _, v := range detail.Variants {
			fmt.Fprintf(vtw, "%s\t%s\t%d\n", v.Key, v.Name, v.Weight)
		}
		if err := vtw.Flush(); err != nil {
			return err
		}
	}

	fmt.Println()
	etw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(etw, "ENVIRONMENT\tENABLED\tPERCENTAGE")
	for env, fe := range detail.Environments {
		fmt.Fprintf(etw, "%s\t%t\t%d%%\n", env, fe.Enabled, fe.Percentage)
	}
	return etw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
