package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/guileen/crossquery/planner"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var pkPath string

	cmd := &cobra.Command{
		Use:   "plan <sql>",
		Short: "Show how a query is split across partitions",
		Long: `Analyze a query and print its cross-partition strategy together with the
query each partition runs.

Example:
  xq plan "SELECT c.city, COUNT(1) AS n FROM c GROUP BY c.city"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], pkPath, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&pkPath, "pk-path", "/id", "partition key path")
	return cmd
}

type planOutput struct {
	Strategy       string   `json:"strategy"`
	Distinct       string   `json:"distinct"`
	Top            int      `json:"top"`
	Offset         int      `json:"offset"`
	Limit          int      `json:"limit"`
	OrderBy        []string `json:"orderBy,omitempty"`
	GroupBy        []string `json:"groupBy,omitempty"`
	PartitionKey   string   `json:"partitionKey,omitempty"`
	PartitionQuery string   `json:"partitionQuery"`
}

func runPlan(opts *RootOptions, text, pkPath string, w io.Writer) error {
	qi, err := planner.Analyze(text, nil, pkPath)
	if err != nil {
		return err
	}
	out := planOutput{
		Strategy:       string(qi.Strategy()),
		Distinct:       qi.DistinctType.String(),
		Top:            qi.Top,
		Offset:         qi.Offset,
		Limit:          qi.Limit,
		OrderBy:        qi.OrderByExpressions,
		GroupBy:        qi.GroupByExpressions,
		PartitionQuery: qi.PartitionQuery(""),
	}
	if qi.PartitionKey != nil {
		out.PartitionKey = qi.PartitionKey.JSON()
	}

	if opts.Format == "json" {
		return json.NewEncoder(w).Encode(out)
	}
	fmt.Fprintf(w, "strategy:        %s\n", out.Strategy)
	fmt.Fprintf(w, "distinct:        %s\n", out.Distinct)
	fmt.Fprintf(w, "top/offset/limit: %d/%d/%d\n", out.Top, out.Offset, out.Limit)
	if len(out.OrderBy) > 0 {
		fmt.Fprintf(w, "order by:        %v\n", out.OrderBy)
	}
	if len(out.GroupBy) > 0 {
		fmt.Fprintf(w, "group by:        %v\n", out.GroupBy)
	}
	if out.PartitionKey != "" {
		fmt.Fprintf(w, "partition key:   %s\n", out.PartitionKey)
	}
	fmt.Fprintf(w, "partition query: %s\n", out.PartitionQuery)
	return nil
}
