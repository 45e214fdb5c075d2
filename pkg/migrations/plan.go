package migrations

import (
	"fmt"
	"sort"
	"sync"
)

// Step is one transition of a plan.
type Step struct {
	From   string
	To     string
	Action Action
}

// String returns the transition as "from -> to".
func (s Step) String() string {
	return fmt.Sprintf("%q -> %q", s.From, s.To)
}

// Plan is a chain of named states connected by steps. Steps are kept in a
// table keyed by their from state, so every state has at most one outgoing
// step and the chain can be walked with a plain loop.
type Plan struct {
	name    string
	initial string

	mu     sync.RWMutex
	steps  map[string]Step
	order  []string
	sealed bool
}

// NewPlan creates an empty plan starting at initialState.
func NewPlan(name, initialState string) *Plan {
	return &Plan{
		name:    name,
		initial: initialState,
		steps:   make(map[string]Step),
	}
}

// Name returns the plan name.
func (p *Plan) Name() string {
	return p.name
}

// InitialState returns the state a plan with no persisted progress starts from.
func (p *Plan) InitialState() string {
	return p.initial
}

// AddStep appends a step from one state to another.
func (p *Plan) AddStep(from, to string, action Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sealed {
		return p.structureError(from, to, "cannot add step", ErrPlanSealed)
	}
	if action == nil {
		return p.structureError(from, to, "step has no action", nil)
	}
	if from == to {
		return p.structureError(from, to, "step does not change state", nil)
	}
	if existing, ok := p.steps[from]; ok {
		return p.structureError(from, to,
			fmt.Sprintf("state %q already has a step to %q", from, existing.To), nil)
	}

	// Walking forward from the new target must never come back to from.
	for state := to; ; {
		next, ok := p.steps[state]
		if !ok {
			break
		}
		if next.To == from {
			return p.structureError(from, to, "step creates a cycle", nil)
		}
		state = next.To
	}

	p.steps[from] = Step{From: from, To: to, Action: action}
	p.order = append(p.order, from)
	return nil
}

// MustAddStep is AddStep for statically defined plans. It panics on error.
func (p *Plan) MustAddStep(from, to string, action Action) *Plan {
	if err := p.AddStep(from, to, action); err != nil {
		panic(err)
	}
	return p
}

// Seal makes the plan immutable.
func (p *Plan) Seal() {
	p.mu.Lock()
	p.sealed = true
	p.mu.Unlock()
}

// Sealed reports whether the plan is immutable.
func (p *Plan) Sealed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sealed
}

// StepFrom returns the step leaving state.
func (p *Plan) StepFrom(state string) (Step, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	step, ok := p.steps[state]
	return step, ok
}

// IsFinal reports whether state is a final state of the plan: a state that
// belongs to the plan and has no outgoing step.
func (p *Plan) IsFinal(state string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.steps[state]; ok {
		return false
	}
	return p.knowsLocked(state)
}

// Knows reports whether state appears anywhere in the plan.
func (p *Plan) Knows(state string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.knowsLocked(state)
}

func (p *Plan) knowsLocked(state string) bool {
	if state == p.initial {
		return true
	}
	if _, ok := p.steps[state]; ok {
		return true
	}
	for _, step := range p.steps {
		if step.To == state {
			return true
		}
	}
	return false
}

// FinalStates returns the states with no outgoing step, sorted.
func (p *Plan) FinalStates() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool)
	finals := make([]string, 0, 1)
	candidates := append([]string{p.initial}, p.targetsLocked()...)
	for _, state := range candidates {
		if seen[state] {
			continue
		}
		seen[state] = true
		if _, ok := p.steps[state]; !ok {
			finals = append(finals, state)
		}
	}
	sort.Strings(finals)
	return finals
}

// FinalState returns the state reached by walking the chain from the
// initial state.
func (p *Plan) FinalState() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state := p.initial
	for {
		step, ok := p.steps[state]
		if !ok {
			return state
		}
		state = step.To
	}
}

// Steps returns the steps in chain order from the initial state, followed by
// steps that are not reachable from it in the order they were added.
func (p *Plan) Steps() []Step {
	p.mu.RLock()
	defer p.mu.RUnlock()

	steps := make([]Step, 0, len(p.steps))
	visited := make(map[string]bool, len(p.steps))
	for state := p.initial; ; {
		step, ok := p.steps[state]
		if !ok {
			break
		}
		steps = append(steps, step)
		visited[state] = true
		state = step.To
	}
	for _, from := range p.order {
		if !visited[from] {
			steps = append(steps, p.steps[from])
		}
	}
	return steps
}

// Validate checks the plan as a whole. AddStep already rejects branches and
// cycles. Validate rejects unnamed plans and plans with a final state that
// cannot be reached from the initial state, including a plan whose steps do
// not start at its initial state. Entry chains that join the main chain are
// allowed.
func (p *Plan) Validate() error {
	if p.name == "" {
		return &PlanStructureError{Message: "plan has no name"}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.steps) == 0 {
		return nil
	}
	if _, ok := p.steps[p.initial]; !ok {
		return &PlanStructureError{Plan: p.name, Message: fmt.Sprintf("initial state %q has no outgoing step", p.initial)}
	}

	final := p.initial
	for {
		step, ok := p.steps[final]
		if !ok {
			break
		}
		final = step.To
	}

	for _, from := range p.order {
		to := p.steps[from].To
		if _, ok := p.steps[to]; ok || to == final {
			continue
		}
		return p.structureError(from, to, "final state is not reachable from the initial state", nil)
	}
	return nil
}

func (p *Plan) targetsLocked() []string {
	targets := make([]string, 0, len(p.order))
	for _, from := range p.order {
		targets = append(targets, p.steps[from].To)
	}
	return targets
}

func (p *Plan) structureError(from, to, msg string, err error) error {
	return &PlanStructureError{
		Plan:    p.name,
		From:    from,
		To:      to,
		Message: msg,
		Err:     err,
	}
}
