package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schemaflow/schemaflow/condition"
	"github.com/schemaflow/schemaflow/engine/execution"
)

const defaultUserInputTimeout = 300 * time.Second

// cancelPollInterval bounds how long a wait node can outlive a stop signal.
const cancelPollInterval = 100 * time.Millisecond

var assertEvaluator = condition.NewEvaluator()

func init() {
	register(Metadata{
		Name:        "wait",
		Label:       "Wait",
		Description: "Wait for a fixed number of seconds",
		Category:    "control",
		Parameters: objectSchema(nil, map[string]any{
			"seconds": map[string]any{"type": "number", "description": "seconds to wait", "default": 1},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, wait)

	register(Metadata{
		Name:        "user_input",
		Label:       "User Input",
		Description: "Pause the run until the user confirms they are done",
		Category:    "control",
		Parameters: objectSchema([]string{"prompt"}, map[string]any{
			"prompt":  map[string]any{"type": "string", "description": "message shown to the user"},
			"timeout": map[string]any{"type": "number", "description": "seconds to wait for a response", "default": 300},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, userInput)

	register(Metadata{
		Name:        "assert",
		Label:       "Assert",
		Description: "Fail the run unless a CEL expression over run variables holds",
		Category:    "control",
		Parameters: objectSchema([]string{"expression"}, map[string]any{
			"expression": map[string]any{"type": "string", "description": "CEL expression, variables available as vars.<name>"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, assertExpr)
}

// wait sleeps in short slices so a stop signal is honored promptly instead
// of after the full duration.
func wait(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	seconds := floatField(config, "seconds", 1)
	ec.Log("info", fmt.Sprintf("waiting %.1fs", seconds))

	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	for time.Now().Before(deadline) {
		if err := ec.CheckCancelled(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining > cancelPollInterval {
			remaining = cancelPollInterval
		}
		select {
		case <-ctx.Done():
			return nil, execution.ErrCancelled
		case <-time.After(remaining):
		}
	}
	return nil, nil
}

func userInput(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	prompt := stringField(config, "prompt")
	if prompt == "" {
		prompt = "Complete the manual step, then continue"
	}
	timeout := time.Duration(floatField(config, "timeout", defaultUserInputTimeout.Seconds())) * time.Second

	ec.Log("info", fmt.Sprintf("waiting for user: %s", prompt))

	response, err := ec.RequestUserInput(ctx, prompt, timeout)
	switch {
	case errors.Is(err, execution.ErrUserInputTimeout):
		// A missed prompt should not sink a long run.
		ec.Log("warning", "user input timed out, continuing")
		return map[string]any{"response": "timeout"}, nil
	case err != nil:
		return nil, err
	}

	ec.Log("info", fmt.Sprintf("user responded: %s", response))
	return map[string]any{"response": response}, nil
}

func assertExpr(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	expr := stringField(config, "expression")
	if expr == "" {
		return nil, fmt.Errorf("assert requires an expression")
	}

	ok, err := assertEvaluator.Evaluate(expr, ec.Variables())
	if err != nil {
		return nil, fmt.Errorf("assertion failed to evaluate: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("assertion failed: %s", expr)
	}

	ec.Log("info", fmt.Sprintf("assertion held: %s", expr))
	return map[string]any{"expression": expr, "passed": true}, nil
}
