package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPoliciesCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the policies loaded from the policy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, closeFn, err := state.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			policies := e.Policies()
			if len(policies) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no policies loaded")
				return err
			}
			for _, p := range policies {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", p.ID, p.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
