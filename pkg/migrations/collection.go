package migrations

import (
	"sync"
)

// Collection holds the package plans contributed by installed extensions,
// in registration order.
type Collection struct {
	mu     sync.RWMutex
	plans  map[string]*Plan
	order  []string
	sealed bool
}

// NewCollection creates a collection holding plans.
func NewCollection(plans ...*Plan) (*Collection, error) {
	c := &Collection{plans: make(map[string]*Plan)}
	for _, plan := range plans {
		if err := c.Register(plan); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a plan. Plan names are unique and CorePlanName is reserved.
func (c *Collection) Register(plan *Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return &PlanStructureError{Plan: plan.Name(), Message: "cannot register plan", Err: ErrPlanSealed}
	}
	if plan.Name() == CorePlanName {
		return &PlanStructureError{Plan: plan.Name(), Message: "plan name is reserved for the core schema"}
	}
	if _, exists := c.plans[plan.Name()]; exists {
		return &PlanStructureError{Plan: plan.Name(), Message: "duplicate plan name"}
	}
	c.plans[plan.Name()] = plan
	c.order = append(c.order, plan.Name())
	return nil
}

// Lookup returns the named plan.
func (c *Collection) Lookup(name string) (*Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plan, ok := c.plans[name]
	return plan, ok
}

// Names returns the plan names in registration order.
func (c *Collection) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Plans returns the plans in registration order.
func (c *Collection) Plans() []*Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plans := make([]*Plan, 0, len(c.order))
	for _, name := range c.order {
		plans = append(plans, c.plans[name])
	}
	return plans
}

// Len returns the number of plans.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Seal makes the collection and every plan in it immutable.
func (c *Collection) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	for _, plan := range c.plans {
		plan.Seal()
	}
}
