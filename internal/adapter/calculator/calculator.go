package calculator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/tracer"
)

const rewritePrompt = `Translate a math problem into a single expression that can be evaluated.
Use only numbers, + - * / and parentheses, and the functions pow(x, y), sqrt(x), abs(x), floor(x), ceil(x), round(x).
Reply with the expression only.

Question: %s
Expression:`

// Calculator answers arithmetic questions.
type Calculator struct {
	llm    domain.LLMProvider
	model  string
	logger *slog.Logger
}

// New creates a calculator. llm may be nil; it is only used to rewrite
// questions that are not already expressions.
func New(llm domain.LLMProvider, model string, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{llm: llm, model: model, logger: logger}
}

// Query implements domain.QueryBackend. It evaluates text directly, then
// the expression spelled out in its words, then asks the LLM to rewrite it.
func (c *Calculator) Query(ctx context.Context, text string) (string, error) {
	const op = "calculator.Query"

	ctx, span := tracer.StartSpan(ctx, "calculator.query",
		trace.WithAttributes(tracer.IntAttr("calculator.input_len", len(text))),
	)
	defer span.End()

	if v, err := Evaluate(text); err == nil {
		span.SetAttributes(tracer.StringAttr("calculator.source", "direct"))
		tracer.SetOK(span)
		return FormatAnswer(v), nil
	}

	if expr := extractExpression(text); expr != "" {
		if v, err := Evaluate(expr); err == nil {
			span.SetAttributes(tracer.StringAttr("calculator.source", "words"))
			tracer.SetOK(span)
			c.logger.Debug("calculator: evaluated words", "expression", expr)
			return FormatAnswer(v), nil
		}
	}

	if c.llm == nil {
		err := domain.NewSubSystemError("calculator", op, domain.ErrExpression,
			fmt.Sprintf("cannot evaluate %q", text))
		tracer.RecordError(span, err)
		return "", err
	}

	expr, err := c.rewrite(ctx, text)
	if err != nil {
		if errors.Is(err, domain.ErrGenerationUnsupported) {
			err = domain.NewSubSystemError("calculator", op, domain.ErrExpression,
				fmt.Sprintf("cannot evaluate %q", text))
		}
		tracer.RecordError(span, err)
		return "", err
	}
	v, err := Evaluate(expr)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	span.SetAttributes(tracer.StringAttr("calculator.source", "llm"))
	tracer.SetOK(span)
	c.logger.Debug("calculator: evaluated rewrite", "expression", expr)
	return FormatAnswer(v), nil
}

func (c *Calculator) rewrite(ctx context.Context, question string) (string, error) {
	resp, err := c.llm.Chat(ctx, domain.ChatRequest{
		Model: c.model,
		Messages: []domain.Message{{
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf(rewritePrompt, question),
			Timestamp: time.Now(),
		}},
	})
	if err != nil {
		return "", err
	}
	expr := strings.TrimSpace(resp.Message.Content)
	expr = strings.Trim(expr, "`")
	expr = strings.TrimPrefix(expr, "Expression:")
	return strings.TrimSpace(expr), nil
}

// FormatAnswer renders v as "Answer: <value>", trimming float noise.
func FormatAnswer(v float64) string {
	if math.Abs(v) < 1e9 {
		v = math.Round(v*1e10) / 1e10
	}
	return "Answer: " + strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	tokenRe = regexp.MustCompile(`[a-z]+|\d+(?:\.\d+)?|[-+*/(),]`)
	powRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*\^\s*(\d+(?:\.\d+)?)`)

	// Phrases that wrap their operand are rewritten to helper calls.
	operandPhrases = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`square root of (\d+(?:\.\d+)?)`), " sqrt($1) "},
		{regexp.MustCompile(`(\d+(?:\.\d+)?) squared`), " pow($1, 2) "},
		{regexp.MustCompile(`(\d+(?:\.\d+)?) cubed`), " pow($1, 3) "},
		{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:percent|%) of (\d+(?:\.\d+)?)`), " ($1 * $2 / 100) "},
	}

	// Multi-word operators are replaced before tokenizing.
	phraseOps = strings.NewReplacer(
		"multiplied by", " * ",
		"divided by", " / ",
		"to the power of", " ^ ",
	)

	wordOps = map[string]string{
		"plus": "+", "add": "+", "minus": "-", "subtract": "-",
		"times": "*", "x": "*", "over": "/",
	}
)

// extractExpression turns a question such as "what is 12 times 7?" into
// "12 * 7". Words that are neither operators nor math helpers are dropped.
// It returns "" unless the text has both a number and an operation.
func extractExpression(text string) string {
	lower := phraseOps.Replace(strings.ToLower(text))
	for _, p := range operandPhrases {
		lower = p.re.ReplaceAllString(lower, p.repl)
	}
	if strings.Contains(lower, "^") {
		lower = powRe.ReplaceAllString(lower, "pow($1, $2)")
	}

	var (
		out    []string
		hasNum bool
		hasOp  bool
	)
	for _, tok := range tokenRe.FindAllString(lower, -1) {
		switch {
		case isDigit(tok[0]):
			hasNum = true
			out = append(out, tok)
		case strings.ContainsAny(tok, "+-*/(),"):
			hasOp = hasOp || strings.ContainsAny(tok, "+-*/")
			out = append(out, tok)
		case slices.Contains(Functions, tok):
			hasOp = true
			out = append(out, tok)
		default:
			if op, ok := wordOps[tok]; ok {
				hasOp = true
				out = append(out, op)
			}
		}
	}
	if !hasNum || !hasOp {
		return ""
	}
	return strings.Join(out, " ")
}
