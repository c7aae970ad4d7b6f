package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const tableDirective = "%table "

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printResult renders a paragraph result. Table results are aligned on a
// terminal and left tab-separated otherwise so they can be piped.
func printResult(w io.Writer, res *Result, aligned bool) error {
	if !strings.HasPrefix(res.Message, tableDirective) {
		_, err := fmt.Fprintln(w, strings.TrimRight(res.Message, "\n"))
		return err
	}
	body := strings.TrimPrefix(res.Message, tableDirective)
	if !aligned {
		_, err := fmt.Fprint(w, body)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		if _, err := fmt.Fprintln(tw, line); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.SpillPath != "" {
		_, _ = fmt.Fprintf(w, "\n%d rows written to %s\n", res.Rows, res.SpillPath)
	}
	return nil
}

func printRuns(w io.Writer, runs []Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTARTED\tUSER\tSTATUS\tROWS\tDURATION\tSTATEMENT")
	for _, r := range runs {
		status := r.Status
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%dms\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.UserName, status,
			r.RowsReturned, r.DurationMs, truncate(oneLine(r.Statement), 60))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
