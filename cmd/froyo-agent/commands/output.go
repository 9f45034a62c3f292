package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/openfroyo/froyo-agent/pkg/agent"
	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/stores"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printCycle renders a cycle result: the plan as one row per action, then
// the policy findings and the execution outcome.
func printCycle(w io.Writer, r *agent.CycleResult) error {
	if jsonOutput {
		return writeJSON(w, r)
	}

	fmt.Fprintf(w, "Cycle %s: %s\n", r.ID, r.Status)
	if r.Framework != "" {
		fmt.Fprintf(w, "Framework replacement requested: %s\n", r.Framework)
		return nil
	}
	if len(r.Features) > 0 {
		fmt.Fprintf(w, "Features: %s\n", strings.Join(r.Features, ", "))
	}

	if r.Plan != nil {
		fmt.Fprintln(w)
		t := newTable(w)
		t.AppendHeader(table.Row{"Action", "Module", "Installed", "Desired", "Location"})
		for _, u := range r.Plan.Update {
			t.AppendRow(table.Row{"update", u.Desired.Name, u.Installed.Version, u.Desired.Version, u.Desired.Location})
		}
		for _, m := range r.Plan.Delete {
			t.AppendRow(table.Row{"delete", m.Name, m.Version, "", m.Location})
		}
		for _, a := range r.Plan.Install {
			t.AppendRow(table.Row{"install", a.Name, "", a.Version, a.Location})
		}
		if verbose {
			for _, p := range r.Plan.Ignore {
				t.AppendRow(table.Row{"keep", p.Installed.Name, p.Installed.Version, p.Desired.Version, p.Installed.Location})
			}
		}
		t.Render()

		s := r.Plan.Summary
		fmt.Fprintf(w, "\nPlan %s: %d to install, %d to update, %d to delete, %d unchanged\n",
			r.Plan.ID, s.Install, s.Update, s.Delete, s.Ignore)
	}

	if r.Policy != nil {
		printFindings(w, "Violation", r.Policy.Violations)
		printFindings(w, "Warning", r.Policy.Warnings)
	}

	if x := r.Execution; x != nil {
		fmt.Fprintf(w, "Refreshed %d modules, started %d", len(x.RefreshSet), len(x.Started))
		if x.RefreshTimedOut {
			fmt.Fprint(w, " (refresh not confirmed in time)")
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printFindings(w io.Writer, label string, findings []engine.PolicyViolation) {
	for _, f := range findings {
		fmt.Fprintf(w, "%s [%s] %s: %s\n", label, f.Severity, f.Policy, f.Message)
	}
}

func printModules(w io.Writer, mods []engine.ModuleRecord) error {
	if jsonOutput {
		return writeJSON(w, mods)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Version", "State", "Kind", "Location"})
	for _, m := range mods {
		kind := "module"
		if ext, ok := m.Extension(); ok {
			kind = "extension of " + ext.Host
		}
		if m.IsBootstrap() {
			kind = "bootstrap"
		}
		t.AppendRow(table.Row{m.ID, m.Name, m.Version, m.State, kind, m.Location})
	}
	t.Render()
	return nil
}

func printEvents(w io.Writer, events []*stores.Event) error {
	if jsonOutput {
		return writeJSON(w, events)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Time", "Module", "Action", "From", "To", "Message"})
	for _, e := range events {
		t.AppendRow(table.Row{e.Timestamp.Format("2006-01-02 15:04:05"), e.Module, e.Action, e.FromState, e.ToState, e.Message})
	}
	t.Render()
	return nil
}

func printValidation(w io.Writer, v *agent.Validation) error {
	if jsonOutput {
		return writeJSON(w, v)
	}

	fmt.Fprintf(w, "Repositories: %d\n", len(v.Repositories))
	for _, r := range v.Repositories {
		fmt.Fprintf(w, "  %s\n", r)
	}
	fmt.Fprintf(w, "Features: %d\n", len(v.Features))
	for _, f := range v.Features {
		fmt.Fprintf(w, "  %s\n", f)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Module", "Transitive"})
	for _, m := range v.Modules {
		t.AppendRow(table.Row{m.Location, m.Transitive})
	}
	for _, b := range v.Bundles {
		t.AppendRow(table.Row{b, false})
	}
	t.Render()
	return nil
}
