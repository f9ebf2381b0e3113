package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sentinel-chat-go/pkg/llm"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

type calculatorArgs struct {
	Expression string `json:"expression"`
}

type calculator struct {
	env map[string]interface{}
}

// NewCalculator 返回只支持算术与常用数学函数的计算器。
func NewCalculator() Tool {
	return &calculator{env: map[string]interface{}{
		"sqrt": math.Sqrt,
		"sin":  math.Sin,
		"cos":  math.Cos,
		"tan":  math.Tan,
		"log":  math.Log,
		"pow":  math.Pow,
		"pi":   math.Pi,
	}}
}

func (c *calculator) Name() string { return Calculator }

func (c *calculator) Definition() llm.ToolDefinition {
	return definition(Calculator,
		"Evaluates a mathematical expression to provide a precise result. Useful for complex calculations.",
		`{"type":"object","properties":{"expression":{"type":"string","description":"The mathematical expression to evaluate, e.g. '2 + 2' or 'sqrt(16) * 5'"}},"required":["expression"]}`)
}

func (c *calculator) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args calculatorArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Expression) == "" {
		return "", errors.New("expression is required")
	}

	program, err := expr.Compile(args.Expression, expr.Env(c.env), expr.AsFloat64())
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, c.env)
	if err != nil {
		return "", fmt.Errorf("evaluation failed: %w", err)
	}
	f, ok := out.(float64)
	if !ok {
		return "", errors.New("expression did not evaluate to a number")
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
