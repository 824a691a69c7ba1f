package output

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/pipeline"
)

// maxWarnings is how many warnings the report lists before summarizing
const maxWarnings = 10

// PrintAnalysisReport prints a colored summary of an analysis
func PrintAnalysisReport(w io.Writer, source string, parcels int, a *pipeline.Analysis) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	// Header
	bold.Fprintln(w, "Pugmark - Cluster Report")
	bold.Fprintln(w, "========================")
	fmt.Fprintf(w, "Parcels: %s (%d usable)\n", source, parcels)
	fmt.Fprintf(w, "Nodes: %d (total density %.2f)\n", a.Stats.Nodes, a.Stats.TotalDensity)
	if a.Stats.HasCenter {
		fmt.Fprintf(w, "Weighted center: %.6f, %.6f\n", a.Stats.Center[0], a.Stats.Center[1])
		fmt.Fprintf(w, "Dispersion: %.3f km\n", a.Stats.Dispersion)
	} else {
		yellow.Fprintln(w, "Weighted center: undefined (no weight)")
	}
	fmt.Fprintln(w)

	// Per boundary
	for i, r := range a.Boundaries {
		cyan.Fprintf(w, "Boundary %d\n", i+1)
		fmt.Fprintf(w, "  Parcels inside: %d\n", len(r.Parcels.Features))
		fmt.Fprintf(w, "  Islands: %d merged, %d single\n", len(r.Islands), len(r.Singletons))

		sizes := make([]int, 0, len(r.Islands))
		for _, island := range r.Islands {
			sizes = append(sizes, len(island))
		}
		sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
		if len(sizes) > 0 {
			fmt.Fprintf(w, "  Largest island: %d parcels\n", sizes[0])
		}
		fmt.Fprintln(w)
	}

	if len(a.Warnings) > 0 {
		red.Fprintf(w, "WARNINGS (%d):\n", len(a.Warnings))
		printWarnings(w, yellow, a.Warnings)
		fmt.Fprintln(w)
	}

	summary := green
	if len(a.Warnings) > 0 {
		summary = yellow
	}
	if a.Stats.Nodes > 0 && a.ClusterCount() == 0 {
		summary = red
	}
	summary.Fprintf(w, "Summary: %d cluster(s) across %d boundary(ies) in %s\n",
		a.ClusterCount(), len(a.Boundaries), a.Elapsed.Round(time.Microsecond))

	if len(a.Warnings) == 0 && a.ClusterCount() > 0 {
		green.Fprintln(w, "✓ All parcels processed without warnings")
	}
}

func printWarnings(w io.Writer, c *color.Color, warnings []model.Warning) {
	for i, warning := range warnings {
		if i == maxWarnings {
			fmt.Fprintf(w, "  ... and %d more\n", len(warnings)-maxWarnings)
			return
		}
		c.Fprintf(w, "  %s\n", warning)
	}
}
