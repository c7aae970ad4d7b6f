package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const cancelTimeout = 10 * time.Second

func newRunCmd(client *Client) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "run <note-id> <paragraph-id> [sql]",
		Short: "Run a statement in a paragraph",
		Long: "Run a statement in a paragraph and print its result. The statement is read from\n" +
			"the argument, --file, or stdin. Interrupting the command cancels the paragraph.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readStatement(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			noteID, paragraphID := args[0], args[1]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			res, err := client.RunParagraph(ctx, noteID, paragraphID, sql)
			if err != nil {
				if ctx.Err() != nil && cmd.Context().Err() == nil {
					cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
					defer cancel()
					if cerr := client.CancelParagraph(cctx, noteID, paragraphID); cerr != nil {
						return fmt.Errorf("interrupted; cancel failed: %w", cerr)
					}
					return errors.New("interrupted; paragraph canceled")
				}
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(out, res)
			}
			return printResult(out, res, isTerminal(out))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the statement from a file")
	return cmd
}

// readStatement takes the statement from the third argument, a file, or r.
func readStatement(r io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) == 3 && file != "":
		return "", errors.New("pass the statement as an argument or with --file, not both")
	case len(args) == 3:
		return args[2], nil
	case file != "":
		data, err := os.ReadFile(file) //nolint:gosec // user-provided path
		if err != nil {
			return "", fmt.Errorf("read statement: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read statement from stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", errors.New("no statement given")
		}
		return string(data), nil
	}
}

func newCancelCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <note-id> <paragraph-id>",
		Short: "Cancel the query running in a paragraph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.CancelParagraph(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), map[string]string{"status": "ok", "paragraph_id": args[1]})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Canceled paragraph %s\n", args[1])
			return nil
		},
	}
}

func newProgressCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <paragraph-id>",
		Short: "Show a running paragraph's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), map[string]interface{}{"paragraph_id": args[0], "progress": p})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d%%\n", p)
			return nil
		},
	}
}

func newRunsCmd(client *Client) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs <note-id> <paragraph-id>",
		Short: "List a paragraph's recent runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := client.ListRuns(cmd.Context(), args[0], args[1], limit)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), runs)
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of runs (server default 20)")
	return cmd
}
