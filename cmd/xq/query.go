package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/guileen/crossquery/client"
	"github.com/guileen/crossquery/emulator"
	"github.com/guileen/crossquery/engine/config"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/types"
)

const collectionName = "docs"

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Data         string
	Partitions   int
	PKPath       string
	PageSize     int
	Parallelism  int
	Continuation string
	Pages        int
	Params       []string
	PartitionKey string
	RangeID      string
	Metrics      bool
	Single       bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query over a collection loaded from a JSON lines file",
		Long: `Load every line of --data as a document into an embedded collection split
into --partitions partition key ranges, then run the query page by page.

Example:
  xq query --data people.jsonl "SELECT * FROM c ORDER BY c.age DESC"
  xq query --data people.jsonl --page-size 10 --pages 1 "SELECT TOP 5 c.name FROM c"
  xq query --data people.jsonl --param age=30 "SELECT * FROM c WHERE c.age > @age"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "JSON lines file with one document per line (required)")
	cmd.Flags().IntVar(&opts.Partitions, "partitions", 4, "number of partition key ranges")
	cmd.Flags().StringVar(&opts.PKPath, "pk-path", "/id", "partition key path")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "max items per page, 0 uses the configured default")
	cmd.Flags().IntVar(&opts.Parallelism, "dop", 0, "max degree of parallelism: 0 serial, -1 auto, N bounded")
	cmd.Flags().StringVar(&opts.Continuation, "continuation", "", "continuation token to resume from")
	cmd.Flags().IntVar(&opts.Pages, "pages", 0, "stop after this many pages, 0 drains the query")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "query parameter as name=json, repeatable")
	cmd.Flags().StringVar(&opts.PartitionKey, "partition-key", "", "partition key value as JSON")
	cmd.Flags().StringVar(&opts.RangeID, "range-id", "", "run against a single partition key range")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print per-partition query metrics")
	cmd.Flags().BoolVar(&opts.Single, "single-partition", false, "disable cross-partition fan out")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func runQuery(ctx context.Context, opts *QueryOptions, text string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	docs, err := loadDocuments(opts.Data)
	if err != nil {
		return err
	}
	backend := emulator.New()
	defer backend.Close()
	if err := backend.CreateCollection(collectionName, opts.PKPath, opts.Partitions); err != nil {
		return err
	}
	if err := backend.UpsertAll(ctx, collectionName, docs); err != nil {
		return err
	}
	logger.Debug("documents loaded", "count", len(docs), "partitions", opts.Partitions)

	c, err := client.New(backend, cfg)
	if err != nil {
		return err
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}
	fo := c.DefaultFeedOptions()
	fo.EnableCrossPartitionQuery = !opts.Single
	fo.MaxDegreeOfParallelism = opts.Parallelism
	fo.RequestContinuation = opts.Continuation
	fo.PartitionKeyRangeID = opts.RangeID
	fo.PopulateQueryMetrics = opts.Metrics
	if opts.PageSize > 0 {
		fo.MaxItemCount = opts.PageSize
	}
	if opts.PartitionKey != "" {
		pk, err := types.Parse([]byte(opts.PartitionKey))
		if err != nil {
			return fmt.Errorf("invalid --partition-key: %w", err)
		}
		fo.PartitionKey = &pk
	}

	it := c.Query(collectionName, client.NewQuerySpec(text, params...), fo)
	defer it.Close()

	out := &pageWriter{format: opts.Format, stdout: stdout, stderr: stderr}
	for page := 1; it.HasMoreResults(); page++ {
		resp, err := it.ExecuteNext(ctx)
		if err != nil {
			return err
		}
		if err := out.write(page, resp, opts.Metrics); err != nil {
			return err
		}
		if opts.Pages > 0 && page >= opts.Pages {
			break
		}
	}
	fmt.Fprintf(stderr, "# activity %s, total charge %.2f RU\n", it.ActivityID(), it.TotalRequestCharge())
	return nil
}

type pageWriter struct {
	format string
	stdout io.Writer
	stderr io.Writer
}

type jsonPage struct {
	Page          int          `json:"page"`
	Documents     []types.Item `json:"Documents"`
	RequestCharge float64      `json:"requestCharge"`
	Continuation  string       `json:"continuation,omitempty"`
	TokenError    string       `json:"tokenError,omitempty"`
	Metrics       string       `json:"metrics,omitempty"`
}

func (w *pageWriter) write(page int, resp *client.FeedResponse, withMetrics bool) error {
	token, tokenErr := resp.ContinuationToken()
	if w.format == "json" {
		p := jsonPage{Page: page, Documents: resp.Items, RequestCharge: resp.RequestCharge, Continuation: token}
		if p.Documents == nil {
			p.Documents = []types.Item{}
		}
		if tokenErr != nil {
			p.TokenError = tokenErr.Error()
		}
		if withMetrics {
			p.Metrics = resp.QueryMetrics.String()
		}
		return json.NewEncoder(w.stdout).Encode(p)
	}

	for _, item := range resp.Items {
		if _, err := fmt.Fprintln(w.stdout, item.JSON()); err != nil {
			return err
		}
	}
	fmt.Fprintf(w.stderr, "# page %d: %d items, %.2f RU\n", page, resp.Count(), resp.RequestCharge)
	switch {
	case tokenErr != nil:
		fmt.Fprintf(w.stderr, "# no continuation: %v\n", tokenErr)
	case token != "":
		fmt.Fprintf(w.stderr, "# continuation: %s\n", token)
	}
	if withMetrics {
		fmt.Fprintf(w.stderr, "# metrics: %s\n", resp.QueryMetrics.String())
	}
	return nil
}

func loadDocuments(path string) ([]types.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	var docs []types.Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		doc, err := types.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	return docs, nil
}

func parseParams(raw []string) ([]client.Parameter, error) {
	params := make([]client.Parameter, 0, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q: want name=json", p)
		}
		v, err := types.Parse([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", p, err)
		}
		params = append(params, client.Parameter{Name: name, Value: v})
	}
	return params, nil
}
