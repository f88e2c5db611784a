package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// WriteText renders the snapshot as aligned plain-text tables, one per section.
func (s Snapshot) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if !s.Anchor.IsZero() {
		fmt.Fprintf(tw, "As of %s\n\n", s.Anchor.Format(time.DateOnly))
	}
	for i, sec := range s.Sections {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s\n", strings.ToUpper(sec.Name))
		for _, p := range sec.Panels {
			if p.Err != "" {
				fmt.Fprintf(tw, "  %s\tunavailable\t%s\n", p.Title, p.Err)
				continue
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.Title, p.Value, strings.Join(p.Chart, " "))
			for i, e := range p.Ranking {
				fmt.Fprintf(tw, "    %d. %s\t%s\t\n", i+1, e.Label, e.Value)
			}
		}
	}
	return tw.Flush()
}

// Failed counts the panels that could not be read.
func (s Snapshot) Failed() int {
	n := 0
	for _, sec := range s.Sections {
		for _, p := range sec.Panels {
			if p.Err != "" {
				n++
			}
		}
	}
	return n
}
