package model

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Check is a fixed pattern the model flags before consulting the forest.
type Check struct {
	Name       string
	Expression string
	Reason     string
}

// BuiltinChecks are evaluated in order; the first that holds decides.
var BuiltinChecks = []Check{
	{
		Name:       "night_high_value",
		Expression: `tx.is_night == 1.0 && tx.transaction_amount > 100000.0`,
		Reason:     "High-value transaction during night hours",
	},
	{
		Name:       "upi_no_mobile",
		Expression: `tx.upi_no_mobile == 1.0 && tx.transaction_amount > 20000.0`,
		Reason:     "UPI transaction without mobile verification",
	},
	{
		Name:       "large_round_amount",
		Expression: `tx.is_round_amount == 1.0 && tx.transaction_amount > 200000.0`,
		Reason:     "Very large round amount transaction",
	},
	{
		Name:       "uncommon_mode_no_mobile",
		Expression: `tx.uncommon_payment_mode == 1.0 && tx.has_mobile == 0.0`,
		Reason:     "Unusual payment mode without verified mobile",
	},
}

type compiledCheck struct {
	Check
	program cel.Program
}

func compileChecks(checks []Check) ([]compiledCheck, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	out := make([]compiledCheck, 0, len(checks))
	for _, c := range checks {
		ast, issues := env.Compile(c.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile check %s: %w", c.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("check %s: expression must return bool, got %s", c.Name, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for check %s: %w", c.Name, err)
		}
		out = append(out, compiledCheck{Check: c, program: program})
	}
	return out, nil
}

// eval reports whether the check holds for the given attributes.
func (c *compiledCheck) eval(attrs map[string]any) (bool, error) {
	out, _, err := c.program.Eval(map[string]any{"tx": attrs})
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("check %s returned %s", c.Name, out.Type())
	}
	return bool(b), nil
}
