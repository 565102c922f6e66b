package actions

import (
	"context"
	"fmt"

	"github.com/schemaflow/schemaflow/engine/execution"
)

func init() {
	register(Metadata{
		Name:        "ai_action",
		Label:       "AI Action",
		Description: "Ask the model to reason about the current page and a natural-language instruction",
		Category:    "ai",
		Parameters: objectSchema([]string{"prompt"}, map[string]any{
			"prompt":     map[string]any{"type": "string", "description": "instruction for the model"},
			"output_var": map[string]any{"type": "string", "description": "variable to store the model response in"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, aiAction)
}

// aiAction hands the model the page context plus the user's instruction and
// records the answer. It does not drive the browser itself; that stays with
// the deterministic actions.
func aiAction(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	prompt := stringField(config, "prompt")
	if prompt == "" {
		return nil, fmt.Errorf("ai_action requires a prompt")
	}
	if ec.LLM == nil {
		return nil, fmt.Errorf("ai_action requires a configured LLM client")
	}

	pageContext := ""
	if ec.Session != nil && ec.Session.Page != nil {
		url := ec.Session.Page.URL()
		title, _ := ec.Session.Page.Title(ctx)
		pageContext = fmt.Sprintf("\n\nCurrent page: %s (%s)", title, url)
	}

	ec.Log("info", fmt.Sprintf("ai_action: %s", truncate(prompt, 50)))
	response, err := ec.LLM.Complete(ctx, prompt+pageContext)
	if err != nil {
		return nil, fmt.Errorf("ai_action model call failed: %w", err)
	}

	if outputVar := stringField(config, "output_var"); outputVar != "" {
		ec.SetVariable(outputVar, response)
	}
	return map[string]any{"prompt": prompt, "response": response}, nil
}
