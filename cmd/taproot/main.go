package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jward/taproot"
	"github.com/spf13/cobra"
)

var (
	flagDB     string
	flagFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "taproot",
	Short:         "Incremental cross-file name resolution over stack graphs",
	Long:          "Taproot indexes per-file stack graph fragments into a SQLite path database and resolves references to definitions across files.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "taproot.db", "database path")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(definitionsCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(statusCmd)
}

var (
	flagForce  bool
	flagSerial bool
)

var indexCmd = &cobra.Command{
	Use:   "index <graph.json>...",
	Short: "Index stack graph fragments into the path database",
	Long:  "Reads per-file graph fragment descriptions (JSON), computes their partial paths, and replaces each file's stored paths atomically. Unchanged fragments are skipped.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
	indexCmd.Flags().BoolVar(&flagSerial, "serial", false, "disable the parallel indexing pool")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	if flagForce {
		if err := os.Remove(flagDB); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database for --force: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", flagDB)
	}

	sources := make([]taproot.FileGraph, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		fg, err := taproot.ParseFileGraph(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		sources = append(sources, fg)
	}

	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.IndexGraphs(context.Background(), sources); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %d file(s) in %s\n", len(sources), time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Database: %s\n", flagDB)
	return nil
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <file>",
	Short: "Drop a file's partial paths, keeping its graph",
	Long:  "Marks the file unanalyzed. Queries that would need it report it as incomplete until the file is reindexed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()
		return engine.Invalidate(args[0])
	},
}

// openEngine opens the Engine from the --db flag path.
func openEngine() (*taproot.Engine, error) {
	var opts []taproot.Option
	if flagSerial {
		opts = append(opts, taproot.WithParallel(false))
	}
	engine, err := taproot.New(flagDB, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", flagDB, err)
	}
	return engine, nil
}
