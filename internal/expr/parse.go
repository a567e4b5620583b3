// Package expr implements the JSON-logic subset used by rule conditions.
//
// A condition is parsed once into a typed tree and evaluated against an
// attribute map. Parsed trees marshal back to their JSON wire form.
package expr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Errors returned by Parse and Eval.
var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrType            = errors.New("type error")
)

// Parse decodes a JSON condition into an expression tree.
func Parse(data []byte) (Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty condition", ErrInvalidArgs)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return parseValue(raw)
}

type builder func(op string, args []Node) (Node, error)

var builders map[string]builder

func init() {
	builders = map[string]builder{
		"==":  buildCompare,
		"!=":  buildCompare,
		">":   buildCompare,
		">=":  buildCompare,
		"<":   buildCompare,
		"<=":  buildCompare,
		"and": buildLogic,
		"or":  buildLogic,
		"!":   buildNot,
		"in":  buildIn,
		"+":   buildArith,
		"-":   buildArith,
		"*":   buildArith,
		"%":   buildArith,
		"?:":  buildIf,
		"if":  buildIf,
	}
}

func parseValue(v any) (Node, error) {
	switch t := v.(type) {
	case nil, bool, float64, string:
		return Literal{Value: t}, nil
	case []any:
		items, err := parseList(t)
		if err != nil {
			return nil, err
		}
		return Array{Items: items}, nil
	case map[string]any:
		return parseOperation(t)
	default:
		return nil, fmt.Errorf("%w: unsupported literal %T", ErrInvalidArgs, v)
	}
}

func parseList(vals []any) ([]Node, error) {
	nodes := make([]Node, 0, len(vals))
	for _, v := range vals {
		n, err := parseValue(v)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func parseOperation(m map[string]any) (Node, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("%w: operation must have exactly one operator, got %d keys", ErrInvalidArgs, len(m))
	}
	var (
		op      string
		rawArgs any
	)
	for k, v := range m {
		op, rawArgs = k, v
	}

	if op == "var" {
		return parseVar(rawArgs)
	}
	build, ok := builders[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
	// A single non-array argument is shorthand for a one-element list.
	list, isList := rawArgs.([]any)
	if !isList {
		list = []any{rawArgs}
	}
	args, err := parseList(list)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return build(op, args)
}

func parseVar(raw any) (Node, error) {
	v := Var{}
	switch t := raw.(type) {
	case string:
		v.Name = t
	case float64:
		v.Name = formatNumber(t)
	case []any:
		if len(t) == 0 || len(t) > 2 {
			return nil, fmt.Errorf("%w: var takes a name and an optional default", ErrInvalidArgs)
		}
		switch name := t[0].(type) {
		case string:
			v.Name = name
		case float64:
			v.Name = formatNumber(name)
		default:
			return nil, fmt.Errorf("%w: var name must be a string", ErrInvalidArgs)
		}
		if len(t) == 2 {
			def, err := parseValue(t[1])
			if err != nil {
				return nil, err
			}
			v.Default = def
		}
	default:
		return nil, fmt.Errorf("%w: var name must be a string", ErrInvalidArgs)
	}
	return v, nil
}

func buildCompare(op string, args []Node) (Node, error) {
	switch {
	case len(args) == 2:
	case len(args) == 3 && (op == "<" || op == "<="):
		// between form: {"<": [lo, x, hi]}
	default:
		return nil, fmt.Errorf("%w: %s takes 2 arguments, got %d", ErrInvalidArgs, op, len(args))
	}
	return Compare{Op: op, Args: args}, nil
}

func buildLogic(op string, args []Node) (Node, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one argument", ErrInvalidArgs, op)
	}
	return Logic{Op: op, Args: args}, nil
}

func buildNot(op string, args []Node) (Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: ! takes 1 argument, got %d", ErrInvalidArgs, len(args))
	}
	return Not{Arg: args[0]}, nil
}

func buildIn(op string, args []Node) (Node, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: in takes 2 arguments, got %d", ErrInvalidArgs, len(args))
	}
	return In{Needle: args[0], Haystack: args[1]}, nil
}

func buildArith(op string, args []Node) (Node, error) {
	switch op {
	case "%":
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: %% takes 2 arguments, got %d", ErrInvalidArgs, len(args))
		}
	case "-":
		if len(args) != 1 && len(args) != 2 {
			return nil, fmt.Errorf("%w: - takes 1 or 2 arguments, got %d", ErrInvalidArgs, len(args))
		}
	default:
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: %s needs at least one argument", ErrInvalidArgs, op)
		}
	}
	return Arith{Op: op, Args: args}, nil
}

func buildIf(op string, args []Node) (Node, error) {
	if op == "?:" && len(args) != 3 {
		return nil, fmt.Errorf("%w: ?: takes 3 arguments, got %d", ErrInvalidArgs, len(args))
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: if needs at least one argument", ErrInvalidArgs)
	}
	return If{Op: op, Args: args}, nil
}
