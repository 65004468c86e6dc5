package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PrintHeader prints a section header
func PrintHeader(title string) {
	fmt.Printf("\n=== %s ===\n", title)
}

// PrintField prints a labeled field
func PrintField(label, value string) {
	fmt.Printf("  %-22s %s\n", label+":", value)
}

// PrintFeatureUsage displays per-feature-type split counts in a table
func PrintFeatureUsage(usage map[string]int) {
	PrintHeader("Feature Usage")

	if len(usage) == 0 {
		fmt.Println("  (no split nodes)")
		return
	}

	types := make([]string, 0, len(usage))
	for t := range usage {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Printf("  %-14s %s\n", "Type", "Splits")
	fmt.Printf("  %-14s %s\n", strings.Repeat("-", 12), strings.Repeat("-", 10))
	for _, t := range types {
		fmt.Printf("  %-14s %d\n", t, usage[t])
	}
}

// PrintRunSummary displays the trained-ensemble summary
func PrintRunSummary(trees int, elapsed time.Duration) {
	PrintHeader("Training Summary")
	PrintField("Trees", fmt.Sprintf("%d", trees))
	PrintField("Duration", elapsed.Round(time.Millisecond).String())
	PrintField("Minutes", fmt.Sprintf("%.3f", elapsed.Minutes()))
}
