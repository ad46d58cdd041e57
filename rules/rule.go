package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator defines the interface for evaluating rule expressions.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// Compiled programs are cached by expression text, so every call for the same
// expression must pass an env with the same variable types.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates the given expression against the provided env.
// The expression must evaluate to a boolean; otherwise, an error is returned.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(env), expr.AsBool())
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile %q: %w", expression, err)
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", expression, err)
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// Rule is a named constraint; Message is shown when the expression is false.
type Rule struct {
	Field      string
	Expression string
	Message    string
}

// Check evaluates every rule against env and returns the rules that failed.
// An evaluation error counts as a failure of that rule.
func Check(ev Evaluator, ruleset []Rule, env map[string]interface{}) ([]Rule, error) {
	var failed []Rule
	var firstErr error
	for _, r := range ruleset {
		ok, err := ev.Evaluate(r.Expression, env)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !ok {
			failed = append(failed, r)
		}
	}
	return failed, firstErr
}
