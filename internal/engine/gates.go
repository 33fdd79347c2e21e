package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Step is a position in the screen definition wizard.
type Step int

const (
	StepName        Step = 1
	StepDescription Step = 2
	StepFramework   Step = 3
	StepOutput      Step = 4
)

func (s Step) Valid() bool {
	return s >= StepName && s <= StepOutput
}

// gateRule is a field that must be filled before a step can be entered.
type gateRule struct {
	step    Step
	field   string
	expr    string
	message string
}

var gateRules = []gateRule{
	{StepDescription, "name", `trim(name) != ""`, "Name is required"},
	{StepFramework, "description", `trim(description) != ""`, "Description is required"},
	{StepOutput, "framework_type", `framework_type != ""`, "Framework type is required"},
}

type compiledGate struct {
	gateRule
	program *vm.Program
}

// GateSet holds the compiled forward-navigation gates of the wizard.
type GateSet struct {
	gates []compiledGate
}

func gateEnv(d Draft) map[string]any {
	return map[string]any{
		"name":           d.Name,
		"description":    d.Description,
		"framework_type": string(d.FrameworkType),
	}
}

// NewGateSet compiles every gate once.
func NewGateSet() (*GateSet, error) {
	env := gateEnv(Draft{})
	gs := &GateSet{gates: make([]compiledGate, 0, len(gateRules))}
	for _, r := range gateRules {
		prog, err := expr.Compile(r.expr, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile gate %s: %w", r.field, err)
		}
		gs.gates = append(gs.gates, compiledGate{gateRule: r, program: prog})
	}
	return gs, nil
}

// MustGateSet is NewGateSet for package initialisation; the rules are static.
func MustGateSet() *GateSet {
	gs, err := NewGateSet()
	if err != nil {
		panic(err)
	}
	return gs
}

// Missing returns one detail per field required to enter target that the
// draft leaves empty.
func (g *GateSet) Missing(target Step, d Draft) []ErrorDetail {
	env := gateEnv(d)
	var details []ErrorDetail
	for _, gate := range g.gates {
		if gate.step > target {
			continue
		}
		ok, err := runGate(gate.program, env)
		if err != nil {
			details = append(details, ErrorDetail{Field: gate.field, Rule: "required", Message: err.Error()})
			continue
		}
		if !ok {
			details = append(details, ErrorDetail{Field: gate.field, Rule: "required", Message: gate.message})
		}
	}
	return details
}

func runGate(prog *vm.Program, env map[string]any) (bool, error) {
	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate gate: %w", err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("gate did not return bool")
	}
	return ok, nil
}
