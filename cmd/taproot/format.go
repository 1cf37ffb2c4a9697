package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jward/taproot"
)

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("unknown format %q: want json or text", format)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputResult(result queryResult) error {
	if flagFormat == "json" {
		return outputJSON(result)
	}
	if len(result.Bindings) == 0 {
		fmt.Println("no bindings")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tREFERENCE\tDEFINITION")
	for _, b := range result.Bindings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Symbol, formatSite(b.Reference), formatSite(b.Definition))
	}
	return tw.Flush()
}

// formatSite renders a site as "file:line:col" (0-based), falling back to
// the node id when the fragment carried no span.
func formatSite(s taproot.Site) string {
	if s.Span == (taproot.Span{}) {
		return fmt.Sprintf("%s#%d", s.File, s.LocalID)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Span.StartLine, s.Span.StartCol)
}

func outputStatus(status *taproot.Status) error {
	if flagFormat == "json" {
		return outputJSON(status)
	}
	fmt.Printf("Files: %d\n", status.Files)
	fmt.Printf("Partial paths: %d\n", status.PartialPaths)
	if len(status.StaleFiles) > 0 {
		fmt.Printf("Stale files: %s\n", strings.Join(status.StaleFiles, ", "))
	}
	if len(status.PathLengthQuartiles) > 0 {
		parts := make([]string, len(status.PathLengthQuartiles))
		for i, q := range status.PathLengthQuartiles {
			parts[i] = fmt.Sprintf("%d", q)
		}
		fmt.Printf("Path length quartiles: %s\n", strings.Join(parts, "/"))
	}
	return nil
}
