// Package calculator evaluates arithmetic with CEL.
package calculator

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"wikichat/internal/domain"
)

// Functions lists the math helpers available in expressions.
var Functions = []string{"pow", "sqrt", "abs", "floor", "ceil", "round"}

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	unary := func(name string, fn func(float64) float64) cel.EnvOption {
		return cel.Function(name,
			cel.Overload(name+"_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Double(fn(float64(v.(types.Double))))
				}),
			),
		)
	}
	return cel.NewEnv(
		cel.Function("pow",
			cel.Overload("pow_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.BinaryBinding(func(a, b ref.Val) ref.Val {
					return types.Double(math.Pow(float64(a.(types.Double)), float64(b.(types.Double))))
				}),
			),
		),
		unary("sqrt", math.Sqrt),
		unary("abs", math.Abs),
		unary("floor", math.Floor),
		unary("ceil", math.Ceil),
		unary("round", math.Round),
	)
})

// Evaluate computes a numeric CEL expression. Integer literals are promoted
// to doubles, so mixed arithmetic like "2 + 0.5" and "7 / 2" works as expected.
func Evaluate(expr string) (float64, error) {
	const op = "calculator.Evaluate"

	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, domain.NewSubSystemError("calculator", op, domain.ErrExpression, "empty expression")
	}

	env, err := celEnv()
	if err != nil {
		return 0, fmt.Errorf("%s: environment: %w", op, err)
	}

	ast, issues := env.Compile(promoteInts(expr))
	if issues != nil && issues.Err() != nil {
		return 0, domain.NewSubSystemError("calculator", op, domain.ErrExpression, issues.Err().Error())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return 0, domain.NewSubSystemError("calculator", op, domain.ErrExpression, err.Error())
	}
	out, _, err := prg.Eval(cel.NoVars())
	if err != nil {
		return 0, domain.NewSubSystemError("calculator", op, domain.ErrExpression, err.Error())
	}

	var v float64
	switch x := out.(type) {
	case types.Double:
		v = float64(x)
	case types.Int:
		v = float64(x)
	case types.Uint:
		v = float64(x)
	default:
		return 0, domain.NewSubSystemError("calculator", op, domain.ErrExpression,
			fmt.Sprintf("result is %s, not a number", out.Type().TypeName()))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, domain.NewSubSystemError("calculator", op, domain.ErrExpression, "result is not a finite number")
	}
	return v, nil
}

// promoteInts rewrites integer literals as double literals ("2" → "2.0").
// Literals that are part of identifiers, already decimal, hex, unsigned or
// in exponent form are left alone.
func promoteInts(expr string) string {
	var sb strings.Builder
	sb.Grow(len(expr) + 8)

	for i := 0; i < len(expr); {
		c := expr[i]
		if !isDigit(c) {
			sb.WriteByte(c)
			i++
			continue
		}
		if i > 0 && (isIdent(expr[i-1]) || expr[i-1] == '.') {
			// Part of a name or the fraction of a decimal.
			j := i
			for j < len(expr) && isDigit(expr[j]) {
				j++
			}
			sb.WriteString(expr[i:j])
			i = j
			continue
		}

		j := i
		for j < len(expr) && isDigit(expr[j]) {
			j++
		}
		sb.WriteString(expr[i:j])
		if j < len(expr) && strings.IndexByte(".eExXuU", expr[j]) >= 0 {
			i = j
			continue
		}
		sb.WriteString(".0")
		i = j
	}
	return sb.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdent(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || isDigit(c)
}
