package calculator

import (
	"errors"
	"math"
	"testing"

	"wikichat/internal/domain"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 2", 4},
		{"7 / 2", 3.5},
		{"2 + 0.5", 2.5},
		{"(1 + 2) * 3 - 4", 5},
		{"-3 * 2", -6},
		{"pow(2, 10)", 1024},
		{"sqrt(16) + abs(-2)", 6},
		{"floor(2.7) + ceil(2.1) + round(2.5)", 8},
		{"1e3 / 4", 250},
		{"0x10", 16},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{
		"",
		"2 +",
		"What is the population of Tokyo?",
		"1 / 0",
		"sqrt(-1)",
		"2 > 1",
		"'text'",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			if !errors.Is(err, domain.ErrExpression) {
				t.Errorf("Evaluate(%q) error = %v, want ErrExpression", expr, err)
			}
		})
	}
}

func TestPromoteInts(t *testing.T) {
	tests := map[string]string{
		"2 + 3":        "2.0 + 3.0",
		"2.5 * 4":      "2.5 * 4.0",
		"pow(2, 10)":   "pow(2.0, 10.0)",
		"1e3":          "1e3",
		"0x1F":         "0x1F",
		"x2 + 1":       "x2 + 1.0",
		"7u":           "7u",
		"(10)/(4)":     "(10.0)/(4.0)",
		"3.14159 - 01": "3.14159 - 01.0",
	}
	for in, want := range tests {
		if got := promoteInts(in); got != want {
			t.Errorf("promoteInts(%q) = %q, want %q", in, got, want)
		}
	}
}
