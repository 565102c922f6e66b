package actions

import (
	"context"
	"fmt"

	"github.com/schemaflow/schemaflow/engine/execution"
)

func init() {
	register(Metadata{
		Name:        "extract_text",
		Label:       "Extract Text",
		Description: "Extract text content from an element into a variable",
		Category:    "data",
		Parameters: objectSchema([]string{"selector", "output_var"}, map[string]any{
			"selector":   map[string]any{"type": "string", "description": "CSS selector"},
			"ai_target":  map[string]any{"type": "string", "description": "element description for AI location"},
			"output_var": map[string]any{"type": "string", "description": "variable to store the text in"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, extractText)

	register(Metadata{
		Name:        "set_variable",
		Label:       "Set Variable",
		Description: "Set a run variable",
		Category:    "data",
		Parameters: objectSchema([]string{"name", "value"}, map[string]any{
			"name":  map[string]any{"type": "string", "description": "variable name"},
			"value": map[string]any{"type": "string", "description": "variable value"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, setVariable)

	register(Metadata{
		Name:        "copy_to_clipboard",
		Label:       "Copy To Clipboard",
		Description: "Copy a value to the run clipboard",
		Category:    "data",
		Parameters: objectSchema([]string{"value"}, map[string]any{
			"value": map[string]any{"type": "string", "description": "value to copy"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, copyToClipboard)

	register(Metadata{
		Name:        "paste_from_clipboard",
		Label:       "Paste From Clipboard",
		Description: "Paste the run clipboard into an element",
		Category:    "data",
		Parameters: objectSchema([]string{"selector"}, map[string]any{
			"selector":  map[string]any{"type": "string", "description": "CSS selector"},
			"ai_target": map[string]any{"type": "string", "description": "element description for AI location"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, pasteFromClipboard)
}

func extractText(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	outputVar := stringField(config, "output_var")
	if outputVar == "" {
		return nil, fmt.Errorf("extract_text requires an output_var")
	}

	selector, err := locateElement(ctx, ec, config, elementTimeout)
	if err != nil {
		return nil, err
	}

	text, err := ec.Session.Page.InnerText(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("text extraction from %s failed: %w", selector, err)
	}

	ec.SetVariable(outputVar, text)
	ec.SetClipboard(text)
	ec.Log("info", fmt.Sprintf("extracted text: %s", truncate(text, 50)))

	return map[string]any{outputVar: text, "effective_selector": selector}, nil
}

func setVariable(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	name := stringField(config, "name")
	if name == "" {
		return nil, fmt.Errorf("set_variable requires a name")
	}
	value := config["value"]

	ec.SetVariable(name, value)
	ec.Log("info", fmt.Sprintf("set variable %s = %s", name, truncate(fmt.Sprintf("%v", value), 50)))

	return map[string]any{name: value}, nil
}

func copyToClipboard(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	value := stringField(config, "value")

	ec.SetClipboard(value)
	ec.Log("info", fmt.Sprintf("copied to clipboard: %s", truncate(value, 50)))

	return map[string]any{"value": value}, nil
}

func pasteFromClipboard(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	selector, err := locateElement(ctx, ec, config, elementTimeout)
	if err != nil {
		return nil, err
	}

	text := ec.Clipboard()
	ec.Log("info", fmt.Sprintf("pasting into %s: %s", selector, truncate(text, 50)))

	if err := ec.Session.Page.Fill(ctx, selector, text); err != nil {
		return nil, fmt.Errorf("paste into %s failed: %w", selector, err)
	}
	return map[string]any{"value": text, "effective_selector": selector}, nil
}
