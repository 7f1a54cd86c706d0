package engine

import (
	"sync"

	"github.com/rendis/browgent/internal/expressions"
)

// ExecutionContext is the per-run mutable store: an ordinal counter used to
// correlate events with executions, and the run's variables. It is created at
// run start and never shared across runs.
type ExecutionContext struct {
	mu      sync.Mutex
	ordinal int
	vars    map[string]any
}

// NewExecutionContext returns an empty context whose first ordinal is 0.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{vars: make(map[string]any)}
}

// NextStepIndex returns the next ordinal. Loops revisit steps, so ordinals
// count executions rather than workflow steps.
func (c *ExecutionContext) NextStepIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.ordinal
	c.ordinal++
	return n
}

// Executed returns how many ordinals have been handed out.
func (c *ExecutionContext) Executed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordinal
}

// SetVar binds name to value, replacing any previous binding.
func (c *ExecutionContext) SetVar(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Var returns the value bound to name.
func (c *ExecutionContext) Var(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[name]
	return v, ok
}

// VariablesSnapshot returns a deep copy of the variables. Mutating it does
// not affect the context.
func (c *ExecutionContext) VariablesSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return expressions.CloneMap(c.vars)
}
