// Package visualization renders plan templates as Graphviz graphs. It only
// reads the plan graph.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/anggasct/planfsm"
)

// DOTGenerator generates Graphviz DOT format representations of plan templates
type DOTGenerator struct {
	plan    *planfsm.PlanTemplate
	options DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowGuardConditions bool
	ShowActions         bool
	ShowModes           bool
	RankDirection       string // "TB", "LR", "BT", "RL"
	NodeShape           string
	TripShape           string
	TerminalShape       string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowGuardConditions: true,
		ShowActions:         true,
		ShowModes:           true,
		RankDirection:       "LR",
		NodeShape:           "box",
		TripShape:           "cds",
		TerminalShape:       "doublecircle",
	}
}

// NewDOTGenerator creates a new DOT generator for the given plan
func NewDOTGenerator(plan *planfsm.PlanTemplate, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &DOTGenerator{
		plan:    plan,
		options: opts,
	}
}

// Generate creates a DOT representation of the plan
func (g *DOTGenerator) Generate() (string, error) {
	if g.plan == nil {
		return "", fmt.Errorf("no plan to render")
	}

	var dot strings.Builder

	dot.WriteString(fmt.Sprintf("digraph %q {\n", g.plan.Name()))
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	if err := g.generateStates(&dot); err != nil {
		return "", fmt.Errorf("failed to generate states: %w", err)
	}

	g.generateTransitions(&dot)

	dot.WriteString("}\n")

	return dot.String(), nil
}

// generateStates generates DOT nodes for all states
func (g *DOTGenerator) generateStates(dot *strings.Builder) error {
	dot.WriteString("  // States\n")

	initial := g.plan.Initial()
	for _, state := range g.plan.States() {
		if err := g.generateStateNode(dot, state, state == initial); err != nil {
			return err
		}
	}
	dot.WriteString("\n")
	return nil
}

// generateStateNode generates a DOT node for a single state
func (g *DOTGenerator) generateStateNode(dot *strings.Builder, state planfsm.PlanState, isInitial bool) error {
	shape := g.options.NodeShape
	fillColor := "lightblue"
	label := state.Name()

	switch state.Kind() {
	case planfsm.KindSimple:
		if state.StateType() == planfsm.EpisodeTrip {
			shape = g.options.TripShape
			fillColor = "lightyellow"
			if mode, ok := state.Mode(); ok && g.options.ShowModes {
				label += fmt.Sprintf("\\n[%s]", mode)
			}
		}
	case planfsm.KindTerminal:
		shape = g.options.TerminalShape
		fillColor = "lightcoral"
	default:
		return fmt.Errorf("state %s has unknown kind %s", state.Name(), state.Kind())
	}

	if isInitial {
		fillColor = "lightgreen"
		label += "\\n(initial)"
	}

	dot.WriteString(fmt.Sprintf("  %q [shape=%s style=\"filled\" fillcolor=%s label=\"%s\"];\n",
		state.Name(), shape, fillColor, label))
	return nil
}

// generateTransitions generates DOT edges for all handlers, ordered by event type
func (g *DOTGenerator) generateTransitions(dot *strings.Builder) {
	dot.WriteString("  // Transitions\n")

	for _, state := range g.plan.States() {
		handlers := state.Handlers()
		events := make([]planfsm.EventType, 0, len(handlers))
		for et := range handlers {
			events = append(events, et)
		}
		sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })

		for _, et := range events {
			h := handlers[et]
			dot.WriteString(fmt.Sprintf("  %q -> %q [label=\"%s\"];\n",
				state.Name(), h.Target().Name(), g.edgeLabel(et, h)))
		}
	}
}

func (g *DOTGenerator) edgeLabel(et planfsm.EventType, h *planfsm.TransitionHandler) string {
	label := et.String()
	if g.options.ShowGuardConditions && h.Guard() != nil {
		label += " [guard]"
	}
	if g.options.ShowActions {
		actions := h.Actions()
		if len(actions) > 0 {
			names := make([]string, len(actions))
			for i, a := range actions {
				names[i] = a.Name()
			}
			label += " / " + strings.Join(names, ", ")
		}
	}
	return label
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}

	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator
func NewSVGGenerator(plan *planfsm.PlanTemplate, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{
		dotGenerator: NewDOTGenerator(plan, options...),
	}
}

// Generate creates an SVG representation of the plan
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}

// GenerateSVG creates an SVG representation of the plan
func (g *DOTGenerator) GenerateSVG() (string, error) {
	svgGen := &SVGGenerator{dotGenerator: g}
	return svgGen.Generate()
}
