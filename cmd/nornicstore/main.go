// Package main provides the NornicStore CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/orneryd/nornicstore/pkg/config"
	"github.com/orneryd/nornicstore/pkg/cursor"
	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/loader"
	"github.com/orneryd/nornicstore/pkg/pool"
	"github.com/orneryd/nornicstore/pkg/reader"
	"github.com/orneryd/nornicstore/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nornicstore",
		Short: "NornicStore - record store and read layer for property graphs",
		Long: `NornicStore keeps a property graph in fixed-size linked records and
reads it back through pooled cursors, transaction overlays and a node
label cache.

Use "load" to import a Neo4j export and "inspect" to read it back.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NornicStore v%s (%s)\n", version, commit)
		},
	})

	// Load command
	loadCmd := &cobra.Command{
		Use:   "load [export]",
		Short: "Load a Neo4j JSON export file or APOC export directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoad,
	}
	rootCmd.AddCommand(loadCmd)

	// Inspect commands
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read records back through the store reader",
	}
	inspectCmd.AddCommand(&cobra.Command{
		Use:   "node [id]",
		Short: "Show the labels, properties and degrees of a node",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspectNode,
	})
	inspectCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show store high-water marks and entity counts",
		RunE:  runInspectStats,
	})
	rootCmd.AddCommand(inspectCmd)

	return rootCmd
}

// loadConfig reads the configuration named by --config, applies flag
// overrides and configures logging, memory and pooling.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Apply(); err != nil {
		return nil, err
	}
	cfg.Memory.ApplyRuntimeMemory()
	pool.Configure(cfg.PoolConfig())
	logrus.WithField("config", cfg.String()).Debug("Configuration loaded")
	return cfg, nil
}

func openStores(cfg *config.Config) (*storage.Stores, error) {
	if cfg.Storage.InMemory {
		return storage.NewMemoryStores(cfg.StoreOptions()), nil
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return storage.NewBadgerStores(cfg.BadgerOptions())
}

func tokenPath(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, loader.TokenFile)
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	tokens, err := loader.LoadTokens(tokenPath(cfg))
	if err != nil {
		return err
	}
	opts := cfg.LoaderOptions()
	opts.Tokens = tokens
	l := loader.New(stores, opts)

	start := time.Now()
	src := args[0]
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("export not found: %w", err)
	}
	var result *loader.ImportResult
	if info.IsDir() {
		result, err = l.ImportAPOCDir(src)
	} else {
		result, err = l.ImportExportFile(src)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	stats, err := l.Flush()
	if err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	if !cfg.Storage.InMemory {
		if err := loader.SaveTokens(l.Tokens(), tokenPath(cfg)); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Loaded %d nodes and %d relationships in %v\n",
		stats.Nodes, stats.Relationships, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "   Dense nodes:     %d (%d groups)\n", stats.DenseNodes, stats.Groups)
	if result.Skipped > 0 {
		fmt.Fprintf(out, "   Skipped values:  %d\n", result.Skipped)
	}
	return nil
}

// openReader opens the configured stores and returns a reader over them with
// the saved token names.
func openReader(cmd *cobra.Command) (*reader.StoreReader, *loader.Tokens, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Storage.InMemory {
		return nil, nil, nil, fmt.Errorf("inspect needs a persistent data directory")
	}
	tokens, err := loader.LoadTokens(tokenPath(cfg))
	if err != nil {
		return nil, nil, nil, err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	r := reader.NewStoreReader(stores, nil, cfg.ReaderOptions())
	closeAll := func() {
		r.Close()
		stores.Close()
	}
	return r, tokens, closeAll, nil
}

func runInspectNode(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid node id %q: %w", args[0], err)
	}
	r, tokens, closeAll, err := openReader(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	s := r.Session(nil)
	defer s.Close()

	labels, err := s.NodeGetLabels(id)
	if err != nil {
		return err
	}
	props, err := s.NodeGetProperties(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Node %d\n", id)
	fmt.Fprint(out, "   Labels:")
	for _, l := range labels {
		fmt.Fprintf(out, " :%s", tokenName(tokens.Labels, l))
	}
	fmt.Fprintln(out)

	keys := make([]int32, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	fmt.Fprintln(out, "   Properties:")
	for _, k := range keys {
		fmt.Fprintf(out, "     %s = %v\n", tokenName(tokens.PropertyKeys, k), props[k])
	}

	fmt.Fprintln(out, "   Degrees:")
	return s.Degrees(id, func(typ int32, d dense.Degrees) bool {
		fmt.Fprintf(out, "     :%s out=%d in=%d loop=%d\n",
			tokenName(tokens.RelationshipTypes, typ), d.Out, d.In, d.Loop)
		return true
	})
}

func runInspectStats(cmd *cobra.Command, args []string) error {
	r, tokens, closeAll, err := openReader(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	s := r.Session(nil)
	defer s.Close()

	nodes, err := count(s.NodesGetAll())
	if err != nil {
		return err
	}
	rels, err := count(s.RelationshipsGetAll())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	st := r.Stores()
	fmt.Fprintf(out, "Nodes:          %d (high id %d)\n", nodes, st.Nodes.HighestIDInUse())
	fmt.Fprintf(out, "Relationships:  %d (high id %d)\n", rels, st.Relationships.HighestIDInUse())
	fmt.Fprintf(out, "Groups:         high id %d\n", st.Groups.HighestIDInUse())
	fmt.Fprintf(out, "Properties:     high id %d\n", st.Properties.HighestIDInUse())

	for _, name := range tokens.Labels.Names() {
		label, _ := tokens.Labels.ID(name)
		n, err := count(s.NodesGetForLabel(label))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "   :%s %d\n", name, n)
	}
	return nil
}

// scanCursor is the part of a scan cursor that count needs.
type scanCursor interface {
	Next() bool
	Err() error
	Close() error
}

func count(c scanCursor) (int, error) {
	defer c.Close()
	n := 0
	for c.Next() {
		n++
	}
	return n, c.Err()
}

func tokenName(r *loader.Registry, id int32) string {
	if name, ok := r.Name(id); ok {
		return name
	}
	return strconv.Itoa(int(id))
}

var (
	_ scanCursor = (*cursor.NodeCursor)(nil)
	_ scanCursor = (*cursor.RelationshipScanCursor)(nil)
)
