package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/mutation"
	"lifeos/api/internal/syncloop"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)

// timelineShown caps how many timeline entries the text view prints.
const timelineShown = 5

// printer writes command results in the selected output format.
type printer struct {
	format string
	w      io.Writer
}

// emit writes v as JSON or YAML, or calls text for the text format. YAML is
// produced from the JSON form so both formats share field names.
func (p printer) emit(v any, text func(io.Writer) error) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(p.w)
	}
}

// viewReport is the machine-readable form of a sync view.
type viewReport struct {
	Status   syncloop.Status      `json:"status"`
	Offline  bool                 `json:"offline"`
	Pending  int                  `json:"pending"`
	Snapshot *dashboard.Snapshot  `json:"snapshot,omitempty"`
	Pulse    *dashboard.LivePulse `json:"pulse,omitempty"`
}

func reportOf(view syncloop.View) viewReport {
	report := viewReport{Status: view.Status, Offline: view.Offline, Pending: view.QueueLen}
	if view.HasSnapshot {
		snapshot := view.Snapshot
		report.Snapshot = &snapshot
	}
	if view.HasPulse {
		pulse := view.Pulse
		report.Pulse = &pulse
	}
	return report
}

func (p printer) view(view syncloop.View) error {
	return p.emit(reportOf(view), func(w io.Writer) error {
		return renderView(w, view)
	})
}

func connectivity(view syncloop.View) string {
	if view.Offline {
		label := "offline"
		if view.QueueLen > 0 {
			label = fmt.Sprintf("offline, %d pending", view.QueueLen)
		}
		return offlineStyle.Render(label)
	}
	if view.QueueLen > 0 {
		return offlineStyle.Render(fmt.Sprintf("online, %d pending", view.QueueLen))
	}
	return onlineStyle.Render("online")
}

func renderView(w io.Writer, view syncloop.View) error {
	var b strings.Builder
	b.WriteString(headerStyle.Render("LifeOS"))
	b.WriteString(" " + connectivity(view) + "\n")

	if !view.HasSnapshot {
		b.WriteString(mutedStyle.Render("No dashboard cached yet. Run `lifeos sync` once online.") + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}
	s := view.Snapshot
	b.WriteString("\n" + s.AssistantText + "\n")

	b.WriteString("\n" + sectionStyle.Render("Stats") + "\n")
	for _, stat := range s.Stats {
		fmt.Fprintf(&b, "  %-6s %s\n", stat.Value, mutedStyle.Render(stat.Label))
	}

	b.WriteString("\n" + sectionStyle.Render("Approvals") + "\n")
	for _, a := range s.Approvals {
		fmt.Fprintf(&b, "  %-9s %s %s\n", a.Status, a.Title, idStyle.Render(a.ID))
	}

	b.WriteString("\n" + sectionStyle.Render("Automations") + "\n")
	for _, a := range s.Automations {
		fmt.Fprintf(&b, "  %-7s %s %s\n", a.Status, a.Name, idStyle.Render(a.ID))
	}

	b.WriteString("\n" + sectionStyle.Render("Timeline") + "\n")
	for i, entry := range s.Timeline {
		if i == timelineShown {
			fmt.Fprintf(&b, "  %s\n", mutedStyle.Render(fmt.Sprintf("... %d more", len(s.Timeline)-timelineShown)))
			break
		}
		fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render(entry.Time), entry.Event)
	}

	footer := "updated " + s.UpdatedAt.Local().Format(time.DateTime)
	if view.HasPulse {
		footer += ", pulse " + view.Pulse.UpdatedAt.Local().Format(time.DateTime)
	}
	b.WriteString("\n" + mutedStyle.Render(footer) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func renderQueue(w io.Writer, queue []mutation.Queued) error {
	if len(queue) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("Queue is empty."))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTARGET\tKEY\tQUEUED AT")
	for _, q := range queue {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			q.ID, q.Mutation.Kind(), q.Mutation.Target(), q.Key, q.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// outcomeReport describes what happened to a single user mutation.
type outcomeReport struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
	Key    string `json:"key"`
	Type   string `json:"type"`
	Target string `json:"target"`
	Status string `json:"status"`
}

func (p printer) outcome(outcome syncloop.Outcome, view syncloop.View) error {
	report := outcomeReport{
		Queued: outcome.Queued,
		ID:     outcome.Entry.ID,
		Key:    outcome.Entry.Key,
		Status: connectivityPlain(view),
	}
	if outcome.Entry.Mutation != nil {
		report.Type = string(outcome.Entry.Mutation.Kind())
		report.Target = outcome.Entry.Mutation.Target()
	}
	return p.emit(report, func(w io.Writer) error {
		if outcome.Queued {
			_, err := fmt.Fprintf(w, "%s %s\n", offlineStyle.Render("Queued"), mutedStyle.Render(fmt.Sprintf("(%d pending, will sync when the server is reachable)", view.QueueLen)))
			return err
		}
		_, err := fmt.Fprintln(w, onlineStyle.Render("Done")+" "+view.Snapshot.AssistantText)
		return err
	})
}

func connectivityPlain(view syncloop.View) string {
	if view.Offline {
		return "offline"
	}
	return "online"
}
