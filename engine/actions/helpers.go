package actions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/schemaflow/schemaflow/engine/execution"
	"github.com/schemaflow/schemaflow/engine/locator"
)

func stringField(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func boolField(config map[string]any, key string, def bool) bool {
	switch v := config[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func floatField(config map[string]any, key string, def float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ctxLogger adapts the execution context's run log to the locator's
// logging surface.
type ctxLogger struct {
	ec *execution.Context
}

func (l ctxLogger) Debug(msg string, args ...any) { l.ec.Log("debug", joinArgs(msg, args)) }
func (l ctxLogger) Info(msg string, args ...any)  { l.ec.Log("info", joinArgs(msg, args)) }
func (l ctxLogger) Warn(msg string, args ...any)  { l.ec.Log("warning", joinArgs(msg, args)) }

func joinArgs(msg string, args []any) string {
	for i := 0; i+1 < len(args); i += 2 {
		msg += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	return msg
}

// locateElement resolves a node's target element from its selector and
// ai_target config fields, waits for it to be visible, and returns the
// selector that actually matched. The AI path only engages when ai_target
// is present.
func locateElement(ctx context.Context, ec *execution.Context, config map[string]any, timeout time.Duration) (string, error) {
	selector := stringField(config, "selector")
	aiTarget := stringField(config, "ai_target")

	if selector == "" && aiTarget == "" {
		return "", fmt.Errorf("either selector or ai_target is required")
	}
	if ec.Session == nil || ec.Session.Page == nil {
		return "", fmt.Errorf("no browser page available")
	}
	page := ec.Session.Page

	var llm locator.LLM
	if ec.LLM != nil {
		llm = ec.LLM
	}

	target := aiTarget
	if target == "" {
		target = selector
	}

	l := locator.New(page, llm, ctxLogger{ec})
	res, err := l.Locate(ctx, target, selector, aiTarget != "", timeout)
	if err != nil {
		return "", err
	}
	ec.Log("info", fmt.Sprintf("element located: %s (method: %s)", res.Selector, res.Method))

	if err := page.WaitForSelector(ctx, res.Selector, timeout); err != nil {
		return "", fmt.Errorf("element never became visible: %s: %w", res.Selector, err)
	}
	return res.Selector, nil
}
