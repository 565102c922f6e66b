package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates boolean assertions over run variables using CEL
// (Common Expression Language). Compiled programs are cached by expression.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate compiles (or reuses) the expression and evaluates it against the
// run's variables, exposed as `vars`. The expression must yield a boolean.
func (e *Evaluator) Evaluate(expr string, variables map[string]any) (bool, error) {
	if expr == "" {
		return false, fmt.Errorf("empty expression")
	}

	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(expr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{
		"vars": variables,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// CacheSize returns the number of cached compiled expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
