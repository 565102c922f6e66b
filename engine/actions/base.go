package actions

import (
	"context"

	"github.com/schemaflow/schemaflow/engine/execution"
)

func init() {
	register(Metadata{
		Name:        "start",
		Label:       "Start",
		Description: "Entry point of the workflow",
		Category:    "base",
		Parameters:  objectSchema(nil, map[string]any{}),
		Inputs:      []string{},
		Outputs:     []string{"flow"},
	}, func(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
		return nil, nil
	})

	register(Metadata{
		Name:        "end",
		Label:       "End",
		Description: "Terminal point of the workflow",
		Category:    "base",
		Parameters:  objectSchema(nil, map[string]any{}),
		Inputs:      []string{"flow"},
		Outputs:     []string{},
	}, func(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
		return nil, nil
	})
}
