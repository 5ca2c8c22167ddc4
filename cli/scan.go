package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
	"github.com/depictio/depictio/metastore"
	"github.com/depictio/depictio/models"
	"github.com/depictio/depictio/scan"
)

// newScanCmd builds the scan command tree:
//
//	depictio scan project --project-id … [--workflow … --dc-tag … --rescan --sync]
//	depictio scan dc --project-id … --dc-id … [--sync]
func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan configured locations for new runs and files",
	}
	cmd.AddCommand(newScanProjectCmd())
	cmd.AddCommand(newScanDCCmd())
	return cmd
}

// openStore connects to the metadata store from environment configuration.
func openStore(ctx context.Context) (*metastore.Store, error) {
	store, err := metastore.New(ctx, config.LoadMetastoreConfig("DEPICTIO_DB"))
	if err != nil {
		return nil, withExitCode(ExitIO, fmt.Errorf("failed to connect to metadata store: %w", err))
	}
	return store, nil
}

func newScanProjectCmd() *cobra.Command {
	var (
		projectID string
		workflow  string
		dcTag     string
		rescan    bool
		sync      bool
	)

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Scan all workflows of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := models.ParseID(projectID)
			if err != nil {
				return withExitCode(ExitConfig, err)
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			project, err := store.GetProject(ctx, id)
			if err != nil {
				return withExitCode(ExitConfig, err)
			}

			engine := scan.NewEngine(store, store, nil)
			result, err := engine.ScanProject(ctx, project, workflow, dcTag, scan.Params{
				Rescan: rescan,
				Sync:   sync,
			})
			if err != nil {
				if common.IsKind(err, common.ErrScanIO) || common.IsKind(err, common.ErrIO) {
					return withExitCode(ExitIO, err)
				}
				return withExitCode(ExitConfig, err)
			}

			printScanResult(result)
			if result.Partial {
				return withExitCode(ExitPartial,
					fmt.Errorf("scan completed with %d location failures", len(result.Errors)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project-id", "", "project id (required)")
	cmd.Flags().StringVar(&workflow, "workflow", "", "restrict to one workflow name or tag")
	cmd.Flags().StringVar(&dcTag, "dc-tag", "", "restrict to one data collection tag")
	cmd.Flags().BoolVar(&rescan, "rescan", false, "revisit runs that are already recorded")
	cmd.Flags().BoolVar(&sync, "sync", false, "update changed files and delete missing ones")
	_ = cmd.MarkFlagRequired("project-id")
	return cmd
}

func newScanDCCmd() *cobra.Command {
	var (
		projectID string
		dcID      string
		sync      bool
	)

	cmd := &cobra.Command{
		Use:   "dc",
		Short: "Scan a single-file data collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pid, err := models.ParseID(projectID)
			if err != nil {
				return withExitCode(ExitConfig, err)
			}
			did, err := models.ParseID(dcID)
			if err != nil {
				return withExitCode(ExitConfig, err)
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			project, err := store.GetProject(ctx, pid)
			if err != nil {
				return withExitCode(ExitConfig, err)
			}

			dc := project.FindDCByID(did)
			if dc == nil {
				return withExitCode(ExitConfig,
					common.Errorf(common.ErrDCNotFound, projectID, "data collection %s not found", dcID))
			}
			var owner *models.Workflow
			for i := range project.Workflows {
				if project.Workflows[i].FindDC(dc.Tag) != nil {
					owner = &project.Workflows[i]
					break
				}
			}
			if owner == nil {
				return withExitCode(ExitConfig,
					common.Errorf(common.ErrConfigInvalid, dc.Tag, "data collection has no owning workflow"))
			}

			engine := scan.NewEngine(store, store, nil)
			stats, err := engine.ScanSingleDC(ctx, owner, dc, scan.Params{Sync: sync})
			if err != nil {
				if common.IsKind(err, common.ErrScanIO) || common.IsKind(err, common.ErrIO) {
					return withExitCode(ExitIO, err)
				}
				return withExitCode(ExitConfig, err)
			}

			fmt.Printf("Scanned data collection %s: new=%d updated=%d skipped=%d\n",
				dc.Tag, stats.NewFiles, stats.UpdatedFiles, stats.SkippedFiles)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project-id", "", "project id (required)")
	cmd.Flags().StringVar(&dcID, "dc-id", "", "data collection id (required)")
	cmd.Flags().BoolVar(&sync, "sync", false, "update changed files and delete missing ones")
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("dc-id")
	return cmd
}

// printScanResult renders the per-DC statistics table.
func printScanResult(result *scan.ProjectResult) {
	fmt.Printf("Runs scanned: %d\n", result.RunsScanned)
	for tag, stats := range result.DCStats {
		fmt.Printf("  %-30s total=%d new=%d updated=%d skipped=%d missing=%d deleted=%d failed=%d\n",
			tag, stats.TotalFiles, stats.NewFiles, stats.UpdatedFiles, stats.SkippedFiles,
			stats.MissingFiles, stats.DeletedFiles, stats.OtherFailureFiles)
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", msg)
	}
}

// newDiagnosticsCmd prints the infrastructure probe report as JSON.
func newDiagnosticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Run infrastructure probes and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runDiagnostics(cmd.Context())
			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return withExitCode(ExitIO, err)
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
}
