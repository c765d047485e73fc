// Package cli implements the dfc command-line interface: policy-aware
// query transformation and execution against a local DuckDB database.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/spf13/cobra"

	"dfc-rewriter/internal/engine"
	"dfc-rewriter/internal/sqlrewrite"
	"dfc-rewriter/policy"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// cliState carries the flags shared by every subcommand.
type cliState struct {
	dbPath     string
	policyFile string
	twoPhase   bool
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:           "dfc",
		Short:         "Data flow control SQL rewriter",
		Long:          "Rewrites SQL queries to enforce registered data flow control policies.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&state.dbPath, "db", "", "DuckDB database file (default: in-memory)")
	rootCmd.PersistentFlags().StringVar(&state.policyFile, "policies", "", "YAML policy file to load")
	rootCmd.PersistentFlags().BoolVar(&state.twoPhase, "two-phase", false, "use the 2-phase CTE rewrite strategy")

	rootCmd.AddCommand(newTransformCmd(state))
	rootCmd.AddCommand(newQueryCmd(state))
	rootCmd.AddCommand(newPoliciesCmd(state))
	rootCmd.AddCommand(newSelfJoinCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// openEngine opens the database and registers the policy file, when
// one is given.
func (s *cliState) openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	db, err := sql.Open("duckdb", s.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	e := engine.New(db, nil)
	if s.policyFile != "" {
		policies, err := policy.LoadFile(s.policyFile)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := e.RegisterAll(ctx, policies); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return e, func() { db.Close() }, nil
}

func (s *cliState) options() sqlrewrite.Options {
	return sqlrewrite.Options{TwoPhase: s.twoPhase}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dfc version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
