package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dfc-rewriter/internal/engine"
)

func newQueryCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Rewrite a query under the loaded policies and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := state.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := e.Query(cmd.Context(), args[0], state.options())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
}

func printResult(out io.Writer, result *engine.Result) error {
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "(%d rows)\n", len(result.Rows))
	return err
}
