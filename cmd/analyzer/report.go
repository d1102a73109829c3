package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/roastedbeans/certification-authority/internal/detection"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	good    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	bad     = color.New(color.FgRed)
)

// renderSummary writes the human readable report of s to w.
func renderSummary(w io.Writer, s *detection.Summary) {
	heading.Fprintf(w, "Detection report (%s correlation, %s)\n", s.Correlation, s.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "requests %d  attacks %d  ", s.TotalRequests, s.TotalAttacks)
	if s.MissedAttacks > 0 {
		bad.Fprintf(w, "missed by every detector %d\n", s.MissedAttacks)
	} else {
		good.Fprintln(w, "missed by every detector 0")
	}

	fmt.Fprintln(w)
	heading.Fprintln(w, "Detectors")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tRECORDS\tFLAGGED\tTP\tFP\tTN\tFN\tACCURACY\tPRECISION\tRECALL\tF1")
	for _, d := range s.Detectors {
		m := d.Matrix
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			d.DetectionType, d.Records, d.Detected,
			m.TruePositive, m.FalsePositive, m.TrueNegative, m.FalseNegative,
			pct(d.Metrics.Accuracy), pct(d.Metrics.Precision), pct(d.Metrics.Recall), pct(d.Metrics.F1))
	}
	tw.Flush()

	if len(s.RecentAttacks) > 0 {
		fmt.Fprintln(w)
		heading.Fprintln(w, "Recent attacks")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, a := range s.RecentAttacks {
			fmt.Fprintf(tw, "#%d\t%s\t%s\t%s %s\t%s\n", a.Index, a.Timestamp, warn.Sprint(a.AttackType), a.RequestMethod, a.RequestURL, a.ResponseStatus)
		}
		tw.Flush()
	}

	if rl := s.RateLimit; rl != nil {
		fmt.Fprintln(w)
		heading.Fprintln(w, "Rate limiting")
		fmt.Fprintf(w, "windows %d  requests %d  ", rl.Windows, rl.TotalRequests)
		if rl.Anomalies > 0 {
			bad.Fprintf(w, "anomalous %d\n", rl.Anomalies)
		} else {
			good.Fprintln(w, "anomalous 0")
		}
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, r := range rl.Recent {
			fmt.Fprintf(tw, "%s\t%s\t%s req\t%s\t%s\n", r.ClientID, r.StartTime, r.RequestCount, r.Endpoint, r.Reason)
		}
		tw.Flush()
	}
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
