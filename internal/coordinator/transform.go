package coordinator

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// TransformEvaluator compiles and caches WorkflowEdge transform expressions,
// adapted from the condition evaluator the teacher uses for branch/loop
// conditions: a CEL environment exposing the source output as `value` and
// the workflow's variables as `vars`, with compiled programs cached by
// expression string under a read-mostly lock.
type TransformEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

func NewTransformEvaluator() *TransformEvaluator {
	return &TransformEvaluator{cache: make(map[string]cel.Program)}
}

// Apply evaluates expr against value/vars and returns the transformed
// value. An empty expr is the identity transform.
func (e *TransformEvaluator) Apply(expr string, value interface{}, vars map[string]interface{}) (interface{}, error) {
	if expr == "" {
		return value, nil
	}

	prg, err := e.programFor(expr)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"value": value,
		"vars":  vars,
	})
	if err != nil {
		return nil, fmt.Errorf("transform evaluation error: %w", err)
	}
	return out.Value(), nil
}

// EvaluateCondition evaluates expr as a boolean branch/loop condition
// against the same variable bindings as Apply.
func (e *TransformEvaluator) EvaluateCondition(expr string, value interface{}, vars map[string]interface{}) (bool, error) {
	result, err := e.Apply(expr, value, vars)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean, got %T", expr, result)
	}
	return b, nil
}

func (e *TransformEvaluator) programFor(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("vars", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile transform %q: %w", expr, issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build CEL program: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
