package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/umd/internal/scanner"
)

// NewScanCommand creates the scan command
func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "Discover convertible files in a directory tree",
		Long: `Walk a directory tree and report every convertible document or
image, split into files still pending conversion and files that
already have a markdown sidecar.

Exclusion rules stored under the data directory are applied, along
with the built-in noise-directory list (node_modules, .git, ...).

Examples:
  umd scan ~/Documents
  umd scan --no-recursive ~/Documents
  umd scan --extensions pdf,docx ~/Documents
  umd scan --json ~/Documents | jq '.pending[].path'`,
		Args: cobra.ExactArgs(1),
		RunE: scanCommand,
	}

	cmd.Flags().Bool("no-recursive", false, "Scan only the top-level directory")
	cmd.Flags().Int("max-depth", 0, "Maximum descent depth (0 = unlimited)")
	cmd.Flags().String("extensions", "", "Comma-separated extensions to include (default: all supported)")
	cmd.Flags().Bool("json", false, "Emit the full scan result as JSON")

	return cmd
}

func scanCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	opts := scanner.DefaultOptions()
	if noRecursive, _ := cmd.Flags().GetBool("no-recursive"); noRecursive {
		opts.Recursive = false
	}
	opts.MaxDepth, _ = cmd.Flags().GetInt("max-depth")
	if exts, _ := cmd.Flags().GetString("extensions"); exts != "" {
		opts.Extensions = strings.Split(exts, ",")
	}

	result, err := a.scanner.Scan(args[0], opts)
	if err != nil {
		return err
	}
	a.cache.Set(result.RootPath, result, 0)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanned %s (%d directories)\n", result.RootPath, result.TotalDirs)
	fmt.Fprintf(out, "  Pending:   %d\n", len(result.Pending))
	fmt.Fprintf(out, "  Converted: %d\n", len(result.Converted))
	fmt.Fprintf(out, "  Excluded:  %d\n", len(result.Excluded))

	if len(result.Pending) > 0 {
		fmt.Fprintf(out, "\nPending files:\n")
		for _, file := range result.Pending {
			fmt.Fprintf(out, "  %s (%s)\n", file.Path, formatSize(file.Size))
		}
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "\nWarnings:\n")
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "  %s\n", msg)
		}
	}
	return nil
}

// formatSize renders a byte count with a human-readable unit.
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
