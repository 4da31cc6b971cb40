package conditions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/parser/operator"
	"github.com/expr-lang/expr/vm"

	"optcond-backend/internal/config"
)

// ErrInvalidExpression is returned for an expression that is not built from
// c<ID> names, !, &&, || and parentheses alone.
var ErrInvalidExpression = errors.New("invalid expression")

var conditionName = regexp.MustCompile(`^c[1-9][0-9]*$`)

// Expression is a compiled condition set expression.
type Expression struct {
	program *vm.Program
	// Names holds every condition name referenced, once each, in order of
	// appearance.
	Names []string
}

// ExpressionCache compiles condition set expressions and keeps the compiled
// programs keyed by source text.
type ExpressionCache struct {
	programs *ristretto.Cache[string, *Expression]
}

func NewExpressionCache(cfg config.CacheConfig) (*ExpressionCache, error) {
	counters := cfg.ExpressionCounters
	if counters <= 0 {
		counters = 10000
	}
	maxCost := cfg.ExpressionMaxCost
	if maxCost <= 0 {
		maxCost = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Expression]{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create expression cache: %w", err)
	}
	return &ExpressionCache{programs: cache}, nil
}

// Compile checks expression and returns its compiled program. Every program
// costs 1, so MaxCost bounds the number of cached programs.
func (c *ExpressionCache) Compile(expression string) (*Expression, error) {
	if compiled, ok := c.programs.Get(expression); ok {
		return compiled, nil
	}
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	check := &expressionChecker{seen: make(map[string]struct{})}
	ast.Walk(&tree.Node, check)
	if check.err != nil {
		return nil, check.err
	}

	env := make(map[string]any, len(check.names))
	for _, name := range check.names {
		env[name] = false
	}
	prog, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	compiled := &Expression{program: prog, Names: check.names}
	c.programs.Set(expression, compiled, 1)
	return compiled, nil
}

// Wait blocks until pending cache writes are applied.
func (c *ExpressionCache) Wait() {
	c.programs.Wait()
}

func (c *ExpressionCache) Close() {
	c.programs.Close()
}

// conditionVar is the identifier a condition is known by inside an expression.
func conditionVar(id int64) string {
	return "c" + strconv.FormatInt(id, 10)
}

// expressionChecker rejects every node other than condition names and the
// boolean operators, and collects the names.
type expressionChecker struct {
	names []string
	seen  map[string]struct{}
	err   error
}

func (v *expressionChecker) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if !conditionName.MatchString(n.Value) {
			v.err = fmt.Errorf("%w: %q is not a condition name", ErrInvalidExpression, n.Value)
			return
		}
		if _, ok := v.seen[n.Value]; !ok {
			v.seen[n.Value] = struct{}{}
			v.names = append(v.names, n.Value)
		}
	case *ast.UnaryNode:
		if n.Operator != "!" && n.Operator != "not" {
			v.err = fmt.Errorf("%w: operator %q is not allowed", ErrInvalidExpression, n.Operator)
		}
	case *ast.BinaryNode:
		if !operator.IsBoolean(n.Operator) {
			v.err = fmt.Errorf("%w: operator %q is not allowed", ErrInvalidExpression, n.Operator)
		}
	default:
		v.err = fmt.Errorf("%w: %q is not allowed", ErrInvalidExpression, n.String())
	}
}

// runExpression evaluates compiled with each condition's result bound to
// c<ID>. Every referenced name must have a result.
func runExpression(compiled *Expression, results map[int64]bool) (bool, error) {
	env := make(map[string]any, len(results))
	for id, ok := range results {
		env[conditionVar(id)] = ok
	}
	for _, name := range compiled.Names {
		if _, ok := env[name]; !ok {
			return false, fmt.Errorf("evaluate expression: %s is not a condition of the set", name)
		}
	}
	out, err := expr.Run(compiled.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	triggered, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate expression: result is %T, not bool", out)
	}
	return triggered, nil
}
