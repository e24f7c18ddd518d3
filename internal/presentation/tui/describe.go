package tui

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// defaultWidth is used when stdout is not a terminal.
const defaultWidth = 100

// Describe renders a markdown summary of a definition and its compiled graph.
func Describe(def *domain.Definition, g machine.Graph) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", g.ID)
	if def.Description != "" {
		b.WriteString(def.Description + "\n\n")
	}
	fmt.Fprintf(&b, "- **Initial state:** `%s`\n", g.Initial)
	if len(g.Terminal) > 0 {
		fmt.Fprintf(&b, "- **Terminal states:** %s\n", codeList(g.Terminal))
	}
	fmt.Fprintf(&b, "- **States:** %d\n- **Transitions:** %d\n\n", len(g.States), len(def.Transitions))

	b.WriteString("## Transitions\n\n| name | from | to | actions |\n|---|---|---|---|\n")
	for _, t := range def.Transitions {
		fmt.Fprintf(&b, "| `%s` | %s | `%s` | %s |\n", t.Name, codeList(t.From), t.To, actionList(t.Actions))
	}

	var hooked []string
	for name, st := range def.States {
		if len(st.OnEntry) > 0 || len(st.OnExit) > 0 {
			hooked = append(hooked, name)
		}
	}
	sort.Strings(hooked)
	if len(hooked) > 0 {
		b.WriteString("\n## State hooks\n\n| state | on entry | on exit |\n|---|---|---|\n")
		for _, name := range hooked {
			st := def.States[name]
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", name, actionList(st.OnEntry), actionList(st.OnExit))
		}
	}

	if !def.Scripts.Empty() {
		b.WriteString("\n## Scripts\n\n")
		for _, phase := range []struct {
			name    string
			scripts map[string]string
		}{{"enter", def.Scripts.Enter}, {"transition", def.Scripts.Transition}, {"leave", def.Scripts.Leave}} {
			keys := make([]string, 0, len(phase.scripts))
			for k := range phase.scripts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "- %s `%s`\n", phase.name, k)
			}
		}
	}

	if len(def.ExternalAPIs) > 0 {
		b.WriteString("\n## External APIs\n\n")
		names := make([]string, 0, len(def.ExternalAPIs))
		for n := range def.ExternalAPIs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			api := def.ExternalAPIs[n]
			method := api.Method
			if method == "" {
				method = "GET"
			}
			fmt.Fprintf(&b, "- `%s`: %s `%s`\n", n, strings.ToUpper(method), api.URL)
		}
	}

	if len(def.ARIActions) > 0 {
		b.WriteString("\n## ARI actions\n\n")
		names := make([]string, 0, len(def.ARIActions))
		for n := range def.ARIActions {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(&b, "- `%s`: %s\n", n, def.ARIActions[n].Operation)
		}
	}
	return b.String()
}

func codeList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "`" + s + "`"
	}
	return strings.Join(quoted, ", ")
}

func actionList(actions []domain.Action) string {
	if len(actions) == 0 {
		return "-"
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		label := string(a.Type)
		if n := a.Name(); n != label {
			label += " " + n
		}
		names = append(names, label)
	}
	return strings.Join(slices.Compact(names), ", ")
}

// Render formats markdown for the terminal. When stdout is not a terminal the markdown is
// returned unchanged.
func Render(markdown string) (string, error) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return markdown, nil
	}
	width := defaultWidth
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		width = w
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
