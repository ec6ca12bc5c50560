package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// Render formats a report as plain text.
func (r Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis for %q: %d rows, %d columns.\n", r.Filename, r.Rows, r.Columns)

	if len(r.Numeric) > 0 {
		b.WriteString("\nNumeric summary:\n")
		fmt.Fprintf(&b, "  %-24s %8s %12s %12s %12s %12s %12s\n", "column", "count", "mean", "std", "min", "median", "max")
		for _, s := range r.Numeric {
			fmt.Fprintf(&b, "  %-24s %8d %12.3f %12.3f %12.3f %12.3f %12.3f\n", s.Column, s.Count, s.Mean, s.Std, s.Min, s.Median, s.Max)
		}
	}
	if len(r.Correlations) > 0 {
		b.WriteString("\nStrong correlations:\n")
		for _, c := range r.Correlations {
			fmt.Fprintf(&b, "  %s vs %s: %.2f\n", c.A, c.B, c.R)
		}
	}
	if len(r.Categorical) > 0 {
		b.WriteString("\nCategorical breakdown:\n")
		for _, c := range r.Categorical {
			parts := make([]string, 0, len(c.Top))
			for _, v := range c.Top {
				parts = append(parts, fmt.Sprintf("%s=%d", v.Value, v.Count))
			}
			fmt.Fprintf(&b, "  Top %d %s: %s\n", TopCategories, c.Column, strings.Join(parts, ", "))
		}
	}
	switch {
	case r.PreviewError != "":
		b.WriteString("\n(lead-level data not available)\n")
	case len(r.Preview) > 0:
		fmt.Fprintf(&b, "\nTop %d leads by prediction score:\n", len(r.Preview))
		for _, lead := range r.Preview {
			fmt.Fprintf(&b, "  #%d score %.3f", lead.Rank, lead.Score)
			keys := make([]string, 0, len(lead.Fields))
			for k := range lead.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%v", k, lead.Fields[k])
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
