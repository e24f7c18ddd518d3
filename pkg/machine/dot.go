package machine

import (
	"fmt"
	"strings"
)

// DOT renders the machine in Graphviz format. A synthetic "none" node points at the
// initial state through an "init" edge.
func (m *Machine) DOT() string {
	g := m.Graph()
	var b strings.Builder

	fmt.Fprintf(&b, "digraph %q {\n", m.id)
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=circle, style=filled, fillcolor=\"#f8f8f8\", color=\"#444444\", fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	b.WriteString("  \"none\" [shape=point];\n")
	fmt.Fprintf(&b, "  \"none\" -> %q [label=\"init\"];\n\n", m.initial)

	for _, s := range g.States {
		var attrs []string
		switch {
		case s == m.initial:
			attrs = append(attrs, "fillcolor=\"#90ee90\"")
		case m.terminal[s]:
			attrs = append(attrs, "fillcolor=\"#d3d3d3\"", "shape=doublecircle")
		}
		var tips []string
		if m.Hook(HookKey{Phase: PhaseEnter, Name: s}) {
			tips = append(tips, "onEntry")
		}
		if m.Hook(HookKey{Phase: PhaseLeave, Name: s}) {
			tips = append(tips, "onExit")
		}
		if len(tips) > 0 {
			attrs = append(attrs, fmt.Sprintf("tooltip=%q", strings.Join(tips, ", ")))
		}
		if len(attrs) == 0 {
			fmt.Fprintf(&b, "  %q;\n", s)
			continue
		}
		fmt.Fprintf(&b, "  %q [%s];\n", s, strings.Join(attrs, ", "))
	}
	b.WriteByte('\n')

	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", e.From, e.To, e.Name)
	}
	b.WriteString("}\n")
	return b.String()
}
