package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/task"
)

var (
	lsFlags         selectionFlags
	lsResourceTypes []string
	lsOutput        string
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List the nodes a selector picks",
	Long: `Lists the unique ids selected by --select minus --exclude. State selectors
(state:new, state:modified, state:removed, state:unmodified, state:changed)
need --state.`,
	RunE: runLs,
}

func init() {
	lsFlags.register(lsCmd)
	lsCmd.Flags().StringSliceVar(&lsResourceTypes, "resource-type", nil, "Only list these resource types (model, metric, source, test, seed)")
	lsCmd.Flags().StringVarP(&lsOutput, "output", "o", "text", "Output format (text, json)")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := loadProject(ctx)
	if err != nil {
		return err
	}
	snap, err := readSnapshot(ctx, lsFlags.state)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, lsFlags.combine, nil)
	if err != nil {
		return err
	}
	defer s.close()

	kinds := make([]ir.Kind, 0, len(lsResourceTypes))
	for _, k := range lsResourceTypes {
		kinds = append(kinds, ir.Kind(k))
	}

	ids, err := s.engine.List(runContext(ctx), task.ListRequest{
		Project:       project,
		Select:        lsFlags.selectExpr(),
		Exclude:       lsFlags.excludeExpr(),
		State:         snap,
		ResourceTypes: kinds,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if lsOutput == "json" {
		if ids == nil {
			ids = []string{}
		}
		data, err := json.MarshalIndent(ids, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal selection: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}
