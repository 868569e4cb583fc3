// Package main provides the fluentcypher CLI.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/fluentcypher/pkg/config"
	"github.com/orneryd/fluentcypher/pkg/cypher"
	"github.com/orneryd/fluentcypher/pkg/driver"
	"github.com/orneryd/fluentcypher/pkg/endpoint"
	"github.com/orneryd/fluentcypher/pkg/graph"
	"github.com/orneryd/fluentcypher/pkg/logging"
	"github.com/orneryd/fluentcypher/pkg/txscope"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

var errOffline = errors.New("no connection in dry-run mode")

// connectFunc opens a protocol client for cfg.
type connectFunc func(ctx context.Context, cfg *config.Config) (driver.Client, error)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	connect    connectFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(connect).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(conn connectFunc) *cobra.Command {
	a := &app{connect: conn}

	rootCmd := &cobra.Command{
		Use:   "fluentcypher",
		Short: "Compile and run fluent Cypher queries",
		Long: `fluentcypher builds Cypher statements from typed declarations and runs
them against a Neo4j compatible server over Bolt or the HTTP API.

Configuration is read from --config, or the first config file found in the
standard locations, and overridden by FLUENTCYPHER_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: search standard locations)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fluentcypher v%s (%s) built %s\n", version, commit, buildTime)
		},
	})
	rootCmd.AddCommand(a.runCmd(), a.nodeCmd(), a.pathCmd())
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging, cmd.ErrOrStderr())
	a.logger.Debug("configuration loaded", "path", path, "config", cfg.String())
	return nil
}

func (a *app) newEndpoint(client driver.Client) *endpoint.Endpoint {
	return endpoint.New(client,
		endpoint.WithLogger(a.logger),
		endpoint.WithCache(cypher.NewQueryCache(a.cfg.Query.CacheSize)),
		endpoint.WithQueryTimeout(a.cfg.Query.Timeout),
	)
}

// withEndpoint connects, runs fn and closes the client.
func (a *app) withEndpoint(ctx context.Context, fn func(*endpoint.Endpoint) error) error {
	client, err := a.connect(ctx, a.cfg)
	if err != nil {
		return err
	}
	ep := a.newEndpoint(client)
	defer func() {
		if err := ep.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("closing client", "error", err)
		}
	}()
	return fn(ep)
}

func (a *app) runCmd() *cobra.Command {
	var inTx bool
	cmd := &cobra.Command{
		Use:   "run <statement>...",
		Short: "Run raw Cypher statements",
		Long: `Run one or more raw Cypher statements and print each result as JSON.

With --tx all statements run in one transaction, committed only when every
statement succeeds.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withEndpoint(ctx, func(ep *endpoint.Endpoint) error {
				if !inTx {
					for _, stmt := range args {
						if err := runOne(ctx, ep, stmt, cmd.OutOrStdout()); err != nil {
							return err
						}
					}
					return nil
				}

				sctx, frame, err := ep.Tx().Enter(ctx, txscope.Required)
				if err != nil {
					return err
				}
				defer frame.Close()
				for _, stmt := range args {
					if err := runOne(sctx, ep, stmt, cmd.OutOrStdout()); err != nil {
						return err
					}
				}
				return frame.Commit()
			})
		},
	}
	cmd.Flags().BoolVar(&inTx, "tx", false, "Run all statements in one transaction")
	return cmd
}

func runOne(ctx context.Context, ep *endpoint.Endpoint, stmt string, w io.Writer) error {
	res, err := ep.Run(ctx, stmt)
	if err != nil {
		return err
	}
	records := make([]endpoint.Record, 0, len(res.Rows))
	for _, row := range res.Rows {
		rec := make(endpoint.Record, len(res.Columns))
		for i, col := range res.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return writeJSON(w, records)
}

func (a *app) nodeCmd() *cobra.Command {
	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Create and fetch nodes",
	}

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a node by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid node id %q: %w", args[0], err)
			}
			return a.withEndpoint(cmd.Context(), func(ep *endpoint.Endpoint) error {
				node, err := ep.GetNode(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), node)
			})
		},
	})

	var (
		labels []string
		props  []string
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a node",
		Example: `  fluentcypher node create --label Person --prop name=Keanu --prop born=1964
  fluentcypher node create --label Movie --prop 'tags=["action","scifi"]'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseProps(props)
			if err != nil {
				return err
			}
			return a.withEndpoint(cmd.Context(), func(ep *endpoint.Endpoint) error {
				node, err := ep.CreateNode(cmd.Context(), values, labels...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), node)
			})
		},
	}
	createCmd.Flags().StringSliceVar(&labels, "label", nil, "Node label (repeatable)")
	createCmd.Flags().StringArrayVar(&props, "prop", nil, "Property as key=value; JSON values are decoded (repeatable)")
	nodeCmd.AddCommand(createCmd)

	return nodeCmd
}

// pathOptions describes a traversal from one start node.
type pathOptions struct {
	start   int64
	types   []string
	dir     string
	minHops int
	maxHops int
	limit   int
}

func (a *app) pathCmd() *cobra.Command {
	var (
		opts   pathOptions
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "path",
		Short: "List nodes reachable from a start node",
		Long: `List the nodes reachable from --start over relationships of the given
types. A --max of 0 leaves the path length unbounded.`,
		Example: `  fluentcypher path --start 1 --type ACTED_IN --dir in --min 1 --max 5
  fluentcypher path --start 1 --type KNOWS --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("start") {
				return errors.New("--start is required")
			}
			if dryRun {
				q, err := pathQuery(a.newEndpoint(offlineClient{}), opts)
				if err != nil {
					return err
				}
				stmt, err := q.Compile()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), stmt.Text)
				return nil
			}
			return a.withEndpoint(cmd.Context(), func(ep *endpoint.Endpoint) error {
				q, err := pathQuery(ep, opts)
				if err != nil {
					return err
				}
				rows, err := endpoint.Fetch[graph.Node](cmd.Context(), q)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rows.Collect())
			})
		},
	}
	cmd.Flags().Int64Var(&opts.start, "start", 0, "Start node id")
	cmd.Flags().StringSliceVar(&opts.types, "type", nil, "Relationship type (repeatable)")
	cmd.Flags().StringVar(&opts.dir, "dir", "out", "Direction: out, in or both")
	cmd.Flags().IntVar(&opts.minHops, "min", 1, "Minimum path length")
	cmd.Flags().IntVar(&opts.maxHops, "max", 1, "Maximum path length (0 for unbounded)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum number of rows (0 for all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the compiled statement without running it")
	return cmd
}

func pathQuery(ep *endpoint.Endpoint, opts pathOptions) (*endpoint.Query, error) {
	q := ep.NewQuery()
	origin, err := q.Node("origin")
	if err != nil {
		return nil, err
	}
	reached, err := q.Node("reached")
	if err != nil {
		return nil, err
	}

	rel := cypher.Rel(opts.types...)
	if opts.maxHops == 0 {
		rel = rel.AtLeast(opts.minHops)
	} else {
		rel = rel.Hops(opts.minHops, opts.maxHops)
	}

	path := cypher.Path(cypher.N(origin))
	switch strings.ToLower(opts.dir) {
	case "out":
		path = path.Out(rel, cypher.N(reached))
	case "in":
		path = path.In(rel, cypher.N(reached))
	case "both":
		path = path.Both(rel, cypher.N(reached))
	default:
		return nil, fmt.Errorf("invalid direction %q: must be out, in or both", opts.dir)
	}

	q.Start(cypher.At(origin, opts.start)).Match(path).Return(reached)
	if opts.limit > 0 {
		q.Limit(opts.limit)
	}
	return q, q.Err()
}

// parseProps turns key=value pairs into a property map. Values that parse
// as JSON keep their JSON type, anything else is a string.
func parseProps(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: want key=value", pair)
		}
		props[key] = parseValue(raw)
	}
	return props, nil
}

func parseValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return fromJSON(v)
}

func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = fromJSON(t[k])
		}
		return t
	default:
		return v
	}
}

func writeJSON(w io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func connect(ctx context.Context, cfg *config.Config) (driver.Client, error) {
	c := cfg.Connection
	switch c.Protocol {
	case config.ProtocolHTTP:
		return driver.NewHTTP(driver.HTTPConfig{
			BaseURL:  c.URI,
			Username: c.Username,
			Password: c.Password,
			Database: c.Database,
		})
	default:
		return driver.NewBolt(ctx, driver.BoltConfig{
			URI:      c.URI,
			Username: c.Username,
			Password: c.Password,
			Database: c.Database,
		})
	}
}

// offlineClient backs dry runs, which compile without connecting.
type offlineClient struct{}

func (offlineClient) Run(context.Context, string) (*driver.Result, error) { return nil, errOffline }
func (offlineClient) Begin(context.Context) (driver.Tx, error)            { return nil, errOffline }
func (offlineClient) Close(context.Context) error                         { return nil }
