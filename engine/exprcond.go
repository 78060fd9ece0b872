// ABOUTME: Safe boolean expression evaluation for condition nodes, backed by expr-lang.
// ABOUTME: Compiled programs are cached per expression; the environment is inputs plus execution variables.
package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprCache holds compiled condition programs. Expressions repeat on
// every loop iteration, so compilation cost is paid once.
type exprCache struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

var conditionCache = &exprCache{programs: make(map[string]*vm.Program)}

func (c *exprCache) get(expression string) (*vm.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prog, ok := c.programs[expression]
	return prog, ok
}

func (c *exprCache) put(expression string, prog *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programs[expression] = prog
}

// EvalCondition evaluates a boolean expression against the given
// environment. The language is expression-only: arithmetic, comparison,
// logical and membership operators plus builtins like len, abs, min,
// max, sum, all, any. No attribute calls, no I/O.
func EvalCondition(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("empty condition expression")
	}

	prog, ok := conditionCache.get(expression)
	if !ok {
		var err error
		prog, err = expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", expression, err)
		}
		conditionCache.put(expression, prog)
	}

	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q produced %T, want bool", expression, out)
	}
	return result, nil
}

// conditionEnv assembles the evaluation environment: execution
// variables, then resolved inputs, then the keys of an object-shaped
// default input lifted to the top level. Later layers shadow earlier
// ones so edge data wins over stale variables.
func conditionEnv(inputs map[string]any, vars map[string]any) map[string]any {
	env := make(map[string]any, len(inputs)+len(vars)+2)
	for k, v := range vars {
		env[k] = v
	}
	for k, v := range inputs {
		env[k] = v
	}
	if def, ok := inputs[DefaultOutput].(map[string]any); ok {
		for k, v := range def {
			env[k] = v
		}
	}
	env["inputs"] = inputs
	env["vars"] = vars
	return env
}
