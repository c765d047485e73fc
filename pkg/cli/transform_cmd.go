package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTransformCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "transform <sql>",
		Short: "Rewrite a query under the loaded policies without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := state.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := e.Transform(args[0], state.options())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
}
