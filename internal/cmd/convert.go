package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harrison/umd/internal/models"
	"github.com/harrison/umd/internal/runner"
	"github.com/harrison/umd/internal/scanner"
)

// NewConvertCommand creates the convert command
func NewConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <directory>",
		Short: "Convert pending files under a directory",
		Long: `Scan a directory and run the configured converter over every file
that does not yet have a markdown sidecar.

Conversion runs with bounded concurrency; interrupting with Ctrl-C
signals the running converter processes and lets them exit within
the grace period.

Examples:
  umd convert ~/Documents
  umd convert --concurrency 5 ~/Documents
  umd convert --force ~/Documents    # re-convert files with sidecars`,
		Args: cobra.ExactArgs(1),
		RunE: convertCommand,
	}

	cmd.Flags().Int("concurrency", 0, "Concurrent converter processes (0 = use config)")
	cmd.Flags().Bool("force", false, "Convert files even when a markdown sidecar exists")

	return cmd
}

func convertCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	result, err := a.scanner.Scan(args[0], scanner.DefaultOptions())
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	files := result.Pending
	if force {
		files = result.Files
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to convert.")
		return nil
	}

	opts := runner.DefaultBatchOptions()
	opts.RootPath = result.RootPath
	opts.SkipConverted = !force
	opts.Concurrency = a.cfg.Concurrency
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		opts.Concurrency = n
	}

	out := cmd.OutOrStdout()
	opts.OnStart = func(file models.DiscoveredFile) {
		fmt.Fprintf(out, "[%s] converting %s\n", time.Now().Format("15:04:05"), file.Path)
	}
	opts.OnProgress = func(done, total int) {
		fmt.Fprintf(out, "[%s] %d/%d done\n", time.Now().Format("15:04:05"), done, total)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobID := uuid.NewString()
	start := time.Now()
	results, err := a.runner.ConvertBatch(ctx, files, jobID, opts)
	if err != nil {
		return err
	}

	var completed, failed int
	for _, res := range results {
		if res.Success {
			completed++
		} else if !res.Skipped {
			failed++
			fmt.Fprintf(out, "  FAILED %s: %s\n", res.FilePath, res.Error)
		}
	}

	fmt.Fprintf(out, "\nConversion Summary:\n")
	fmt.Fprintf(out, "  Total files: %d\n", len(files))
	fmt.Fprintf(out, "  Completed: %d\n", completed)
	fmt.Fprintf(out, "  Failed: %d\n", failed)
	fmt.Fprintf(out, "  Duration: %s\n", time.Since(start).Round(time.Second))

	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(files))
	}
	return nil
}
