package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Env is the attribute map a tree is evaluated against.
type Env map[string]any

// Node is a parsed expression.
type Node interface {
	Eval(env Env) (any, error)
	json.Marshaler
}

// Eval evaluates n against env.
func Eval(n Node, env Env) (any, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil expression", ErrInvalidArgs)
	}
	return n.Eval(env)
}

// Test evaluates n against env and reports whether the result is truthy.
func Test(n Node, env Env) (bool, error) {
	v, err := Eval(n, env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Literal is a constant scalar.
type Literal struct {
	Value any
}

func (l Literal) Eval(Env) (any, error) { return l.Value, nil }

func (l Literal) MarshalJSON() ([]byte, error) { return json.Marshal(l.Value) }

// Array is a list literal whose items may be expressions.
type Array struct {
	Items []Node
}

func (a Array) Eval(env Env) (any, error) {
	out := make([]any, 0, len(a.Items))
	for _, item := range a.Items {
		v, err := item.Eval(env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (a Array) MarshalJSON() ([]byte, error) {
	if a.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.Items)
}

// Var reads an attribute, falling back to Default (or null) when absent.
type Var struct {
	Name    string
	Default Node
}

func (v Var) Eval(env Env) (any, error) {
	if val, ok := lookup(env, v.Name); ok {
		return val, nil
	}
	if v.Default != nil {
		return v.Default.Eval(env)
	}
	return nil, nil
}

func (v Var) MarshalJSON() ([]byte, error) {
	if v.Default == nil {
		return json.Marshal(map[string]any{"var": v.Name})
	}
	return json.Marshal(map[string]any{"var": []any{v.Name, v.Default}})
}

// lookup resolves a name, trying an exact key before a dotted path.
func lookup(env Env, name string) (any, bool) {
	if name == "" {
		return map[string]any(env), true
	}
	if val, ok := env[name]; ok {
		return val, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = map[string]any(env)
	for _, part := range strings.Split(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Compare implements ==, !=, >, >=, < and <=.
type Compare struct {
	Op   string
	Args []Node
}

func (c Compare) Eval(env Env) (any, error) {
	vals, err := evalAll(env, c.Args)
	if err != nil {
		return nil, err
	}
	switch c.Op {
	case "==":
		return looseEqual(vals[0], vals[1]), nil
	case "!=":
		return !looseEqual(vals[0], vals[1]), nil
	}

	for i := 0; i+1 < len(vals); i++ {
		ok, err := order(c.Op, vals[i], vals[i+1])
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c Compare) MarshalJSON() ([]byte, error) { return marshalOp(c.Op, c.Args) }

// Logic implements short-circuit and/or returning the deciding operand.
type Logic struct {
	Op   string
	Args []Node
}

func (l Logic) Eval(env Env) (any, error) {
	var last any
	for _, arg := range l.Args {
		v, err := arg.Eval(env)
		if err != nil {
			return nil, err
		}
		last = v
		if l.Op == "and" && !Truthy(v) {
			return v, nil
		}
		if l.Op == "or" && Truthy(v) {
			return v, nil
		}
	}
	return last, nil
}

func (l Logic) MarshalJSON() ([]byte, error) { return marshalOp(l.Op, l.Args) }

// Not negates the truthiness of its argument.
type Not struct {
	Arg Node
}

func (n Not) Eval(env Env) (any, error) {
	v, err := n.Arg.Eval(env)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func (n Not) MarshalJSON() ([]byte, error) { return marshalOp("!", []Node{n.Arg}) }

// In tests membership in an array or substring containment in a string.
type In struct {
	Needle   Node
	Haystack Node
}

func (in In) Eval(env Env) (any, error) {
	needle, err := in.Needle.Eval(env)
	if err != nil {
		return nil, err
	}
	hay, err := in.Haystack.Eval(env)
	if err != nil {
		return nil, err
	}
	switch h := hay.(type) {
	case nil:
		return false, nil
	case []any:
		for _, item := range h {
			if looseEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			s = toString(needle)
		}
		return strings.Contains(h, s), nil
	default:
		return nil, fmt.Errorf("%w: in expects an array or string, got %T", ErrType, hay)
	}
}

func (in In) MarshalJSON() ([]byte, error) { return marshalOp("in", []Node{in.Needle, in.Haystack}) }

// Arith implements +, -, * and %.
type Arith struct {
	Op   string
	Args []Node
}

func (a Arith) Eval(env Env) (any, error) {
	vals, err := evalAll(env, a.Args)
	if err != nil {
		return nil, err
	}
	nums := make([]float64, len(vals))
	for i, v := range vals {
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s operand %v is not numeric", ErrType, a.Op, v)
		}
		nums[i] = n
	}

	switch a.Op {
	case "+":
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum, nil
	case "*":
		prod := 1.0
		for _, n := range nums {
			prod *= n
		}
		return prod, nil
	case "-":
		if len(nums) == 1 {
			return -nums[0], nil
		}
		return nums[0] - nums[1], nil
	case "%":
		if nums[1] == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrType)
		}
		return math.Mod(nums[0], nums[1]), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, a.Op)
}

func (a Arith) MarshalJSON() ([]byte, error) { return marshalOp(a.Op, a.Args) }

// If implements ?: and the chained if/elseif/else form. Only the selected
// branch is evaluated.
type If struct {
	Op   string
	Args []Node
}

func (f If) Eval(env Env) (any, error) {
	i := 0
	for ; i+1 < len(f.Args); i += 2 {
		cond, err := f.Args[i].Eval(env)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return f.Args[i+1].Eval(env)
		}
	}
	if i < len(f.Args) {
		return f.Args[i].Eval(env)
	}
	return nil, nil
}

func (f If) MarshalJSON() ([]byte, error) { return marshalOp(f.Op, f.Args) }

func evalAll(env Env, args []Node) ([]any, error) {
	vals := make([]any, len(args))
	for i, arg := range args {
		v, err := arg.Eval(env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func marshalOp(op string, args []Node) ([]byte, error) {
	if args == nil {
		args = []Node{}
	}
	return json.Marshal(map[string][]Node{op: args})
}
