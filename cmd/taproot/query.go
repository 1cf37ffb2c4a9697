package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jward/taproot"
	"github.com/spf13/cobra"
)

var flagTimeout time.Duration

var definitionsCmd = &cobra.Command{
	Use:   "definitions <file>#<node-id>",
	Short: "Resolve a reference to the definitions it binds to",
	Long:  "Runs the forward stitcher from the given reference node. Bindings are printed best candidate first; files whose paths were unavailable are listed separately.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(args[0], func(ctx context.Context, e *taproot.Engine, file string, id uint32) ([]taproot.Binding, error) {
			return e.FindDefinitions(ctx, file, id)
		})
	},
}

var referencesCmd = &cobra.Command{
	Use:   "references <file>#<node-id>",
	Short: "Find the references that bind to a definition",
	Long:  "Runs the backward stitcher from the given definition node. Output follows the definitions command.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(args[0], func(ctx context.Context, e *taproot.Engine, file string, id uint32) ([]taproot.Binding, error) {
			return e.FindReferences(ctx, file, id)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{definitionsCmd, referencesCmd} {
		cmd.Flags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "abort the search after this long")
	}
}

// parseNodeArg splits "file#id" into its parts.
func parseNodeArg(arg string) (string, uint32, error) {
	i := strings.LastIndexByte(arg, '#')
	if i < 0 {
		return "", 0, fmt.Errorf("argument %q: want <file>#<node-id>", arg)
	}
	id, err := strconv.ParseUint(arg[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("argument %q: bad node id: %w", arg, err)
	}
	return arg[:i], uint32(id), nil
}

// queryResult is the CLI output shape for both query commands.
type queryResult struct {
	Bindings        []taproot.Binding `json:"bindings"`
	IncompleteFiles []string          `json:"incomplete_files,omitempty"`
}

func runQuery(arg string, query func(context.Context, *taproot.Engine, string, uint32) ([]taproot.Binding, error)) error {
	file, id, err := parseNodeArg(arg)
	if err != nil {
		return err
	}
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flagTimeout)
	defer cancel()

	bindings, err := query(ctx, engine, file, id)
	result := queryResult{Bindings: bindings}
	if err != nil {
		var incomplete *taproot.IncompletePathsError
		if !errors.As(err, &incomplete) {
			return err
		}
		// Partial answer: report it, but flag the gaps on stderr.
		result.IncompleteFiles = incomplete.Files
		fmt.Fprintf(os.Stderr, "Warning: paths unavailable for %s — results may be incomplete\n",
			strings.Join(incomplete.Files, ", "))
	}
	return outputResult(result)
}
