package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

var snapshotJSON bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect stored snapshots",
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show [location]",
	Short: "Show a snapshot",
	Long: `Displays the snapshot at location (a path, a directory holding manifest.json,
or s3://bucket/key). Without a location the default snapshot of the project's
default target is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshotShow,
}

func init() {
	snapshotShowCmd.Flags().BoolVar(&snapshotJSON, "json", false, "Output in JSON format")
	snapshotCmd.AddCommand(snapshotShowCmd)
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var location string
	if len(args) > 0 {
		location = args[0]
	} else {
		project, err := loadProject(ctx)
		if err != nil {
			return err
		}
		target, err := project.Target("")
		if err != nil {
			return err
		}
		location = filepath.Join(projectDir, workDir, target.Name)
	}

	snap, err := readSnapshot(ctx, location)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if snapshotJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	md := snap.Metadata
	fmt.Fprintf(out, "Snapshot: project=%s target=%s invocation=%s generated=%s\n",
		md.Project, md.Target, md.InvocationID, md.GeneratedAt)
	fmt.Fprintf(out, "Nodes: %d\n\n", len(snap.Nodes))

	ids := make([]string, 0, len(snap.Nodes))
	for id := range snap.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := snap.Nodes[id]
		fmt.Fprintf(out, "# %s\n", id)
		fmt.Fprintf(out, "  fingerprint = %s\n", node.Fingerprint)
		if node.Relation != nil {
			fmt.Fprintf(out, "  relation    = %s\n", node.Relation)
		}
		if len(node.DependsOn) > 0 {
			fmt.Fprintf(out, "  depends_on  = %v\n", node.DependsOn)
		}
	}
	return nil
}
