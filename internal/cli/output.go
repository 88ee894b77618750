package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/task"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// colorize returns code unless --no-color is set.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func statusColor(s ir.Status) string {
	switch s {
	case ir.StatusSuccess:
		return colorize(colorGreen)
	case ir.StatusError:
		return colorize(colorRed)
	}
	return colorize(colorYellow)
}

// printResults prints one line per node in completion order followed by a summary.
// With statements set, the rendered statement of each node follows its line.
func printResults(w io.Writer, inv *task.Invocation, statements bool) {
	for i, res := range inv.Results.Results {
		fmt.Fprintf(w, "%3d of %-3d %s%-7s%s %-50s [%s]\n", i+1, len(inv.Results.Results),
			statusColor(res.Status), res.Status, colorize(colorReset), res.UniqueID, res.Duration.Round(time.Millisecond))
		if res.Status != ir.StatusSuccess && res.Message != "" {
			fmt.Fprintf(w, "           %s\n", res.Message)
		}
		for _, id := range res.Deferred {
			fmt.Fprintf(w, "           deferred %s\n", id)
		}
		if statements && res.Statement != "" {
			fmt.Fprintf(w, "\n%s\n\n", res.Statement)
		}
	}
	fmt.Fprintf(w, "\nDone. %d succeeded, %d failed, %d skipped in %s (invocation %s)\n",
		inv.Results.Count(ir.StatusSuccess), inv.Results.Count(ir.StatusError),
		inv.Results.Count(ir.StatusSkipped), inv.Results.Elapsed.Round(time.Millisecond), inv.ID)
}
