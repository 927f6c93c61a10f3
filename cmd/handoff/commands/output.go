package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/handoff/internal/handoff"
	"git.home.luguber.info/inful/handoff/internal/history"
)

// Output formats accepted by --format.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// render writes v as JSON or YAML, or through text for the text format.
func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func writeReport(w io.Writer, rep *handoff.Report) error {
	fmt.Fprintf(w, "run %s (%s): %s in %s\n", rep.RunID, rep.Command, rep.Outcome, rep.Duration().Round(time.Millisecond))
	if p := rep.Predecessor; p != nil {
		fmt.Fprintf(w, "predecessor: %s (%s) %s@%s via %s\n", p.Name, p.Address, p.User, p.WorkingDataPath, p.Source)
	}
	if t := rep.Transfer; t != nil {
		fmt.Fprintf(w, "transfer: %d bytes via %s (remote %s)\n", t.TransferredBytes, t.Transport, t.RemoteState)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range rep.Order {
		res, ok := rep.Result(name)
		if !ok {
			fmt.Fprintf(tw, "  %s\t-\t\t\n", name)
			continue
		}
		note := res.Detail
		if res.Error != "" {
			note = res.Error
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", name, res.Status, res.Duration.Round(time.Millisecond), note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if rep.Error != "" {
		fmt.Fprintf(w, "error: %s\n", rep.Error)
	}
	return nil
}

func writeStatus(w io.Writer, st handoff.StatusReport) error {
	fmt.Fprintf(w, "workdir:  %s\n", st.WorkDir)
	fmt.Fprintf(w, "data dir: %s\n", st.DataDir)
	switch {
	case st.Metadata != nil:
		m := st.Metadata
		fmt.Fprintf(w, "metadata: %s (user %s, host %s, captured %s)\n",
			st.MetadataPath, m.User, m.Hostname, m.CapturedAt.Format(time.RFC3339))
	case st.MetadataError != "":
		fmt.Fprintf(w, "metadata: %s\n", st.MetadataError)
	default:
		fmt.Fprintln(w, "metadata: not configured")
	}

	if len(st.Runs) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return nil
	}
	fmt.Fprintln(w, "recent runs:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range st.Runs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.RunID, r.Command, r.Status, runNote(r))
	}
	return tw.Flush()
}

func runNote(r history.RunSummary) string {
	var parts []string
	if r.Predecessor != "" {
		parts = append(parts, "from "+r.Predecessor)
	}
	if r.TransferredBytes > 0 {
		parts = append(parts, fmt.Sprintf("%d bytes", r.TransferredBytes))
	}
	if r.Error != "" {
		parts = append(parts, r.Error)
	}
	return strings.Join(parts, ", ")
}
