package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dfc-rewriter/internal/sqlrewrite"
)

func newSelfJoinCmd() *cobra.Command {
	var (
		relation  string
		keyColumn string
		column    string
		count     int
		prefix    string
		shapeName string
		threshold int
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "selfjoin",
		Short: "Generate a self-join agreement query",
		Long: "Builds a query joining N aliases of one relation on a row identity\n" +
			"column and checking that an aggregated column agrees across them.\n" +
			"Large alias counts are batched into chunk subqueries.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			shape, err := sqlrewrite.ParseShape(shapeName)
			if err != nil {
				return err
			}
			if count < 2 {
				return fmt.Errorf("--count must be at least 2, got %d", count)
			}
			aliases := make([]string, count)
			for i := range aliases {
				aliases[i] = fmt.Sprintf("%s%d", prefix, i+1)
			}
			set := sqlrewrite.AliasSet{
				Relation:  relation,
				KeyColumn: keyColumn,
				Column:    column,
				Aliases:   aliases,
			}
			sql, err := set.BuildQuery(shape, sqlrewrite.ChunkOptions{
				Threshold: threshold,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sql)
			return nil
		},
	}

	cmd.Flags().StringVar(&relation, "relation", "", "relation to self-join (required)")
	cmd.Flags().StringVar(&keyColumn, "key", "rowid", "row identity column the aliases join on")
	cmd.Flags().StringVar(&column, "column", "", "column whose aggregate must agree (required)")
	cmd.Flags().IntVar(&count, "count", 2, "number of aliases")
	cmd.Flags().StringVar(&prefix, "prefix", "a", "alias name prefix")
	cmd.Flags().StringVar(&shapeName, "shape", "pairwise", "comparison shape: pairwise or star")
	cmd.Flags().IntVar(&threshold, "chunk-threshold", 0, "alias count at which chunking starts")
	cmd.Flags().IntVar(&batchSize, "chunk-batch", 0, "aliases per chunk subquery")
	_ = cmd.MarkFlagRequired("relation")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}
