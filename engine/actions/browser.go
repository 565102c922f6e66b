package actions

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/schemaflow/schemaflow/engine/execution"
)

const elementTimeout = 30 * time.Second

func init() {
	register(Metadata{
		Name:        "open_tab",
		Label:       "Open Tab",
		Description: "Open a page and navigate to a URL",
		Category:    "browser",
		Parameters: objectSchema([]string{"url"}, map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to open"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, openTab)

	register(Metadata{
		Name:        "navigate",
		Label:       "Navigate",
		Description: "Navigate the current page to a URL",
		Category:    "browser",
		Parameters: objectSchema([]string{"url"}, map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to navigate to"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, navigate)

	register(Metadata{
		Name:        "click",
		Label:       "Click",
		Description: "Click an element on the page",
		Category:    "browser",
		Parameters: objectSchema(nil, map[string]any{
			"selector":  map[string]any{"type": "string", "description": "CSS selector"},
			"ai_target": map[string]any{"type": "string", "description": "element description for AI location when the selector is stale"},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, click)

	register(Metadata{
		Name:        "input_text",
		Label:       "Input Text",
		Description: "Type text into an element",
		Category:    "browser",
		Parameters: objectSchema([]string{"value"}, map[string]any{
			"selector":    map[string]any{"type": "string", "description": "CSS selector"},
			"ai_target":   map[string]any{"type": "string", "description": "element description for AI location"},
			"value":       map[string]any{"type": "string", "description": "text to type"},
			"press_enter": map[string]any{"type": "boolean", "description": "press Enter after typing", "default": false},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, inputText)

	register(Metadata{
		Name:        "screenshot",
		Label:       "Screenshot",
		Description: "Capture the current page as a JPEG",
		Category:    "browser",
		Parameters:  objectSchema(nil, map[string]any{}),
		Inputs:      []string{"flow"},
		Outputs:     []string{"flow"},
	}, screenshot)

	register(Metadata{
		Name:        "wait_for_element",
		Label:       "Wait For Element",
		Description: "Wait until an element appears on the page",
		Category:    "control",
		Parameters: objectSchema(nil, map[string]any{
			"selector":  map[string]any{"type": "string", "description": "CSS selector"},
			"ai_target": map[string]any{"type": "string", "description": "element description for AI location"},
			"wait_time": map[string]any{"type": "number", "description": "seconds to wait for the element", "default": 10},
		}),
		Inputs:  []string{"flow"},
		Outputs: []string{"flow"},
	}, waitForElement)
}

func requirePage(ec *execution.Context) error {
	if ec.Session == nil || ec.Session.Page == nil {
		return fmt.Errorf("no browser page available")
	}
	return nil
}

// openTab navigates the current tab when one is already live; a separate
// tab would detach the walk from the page every other action drives.
func openTab(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	url := stringField(config, "url")
	if url == "" {
		return nil, fmt.Errorf("open_tab requires a url")
	}
	if ec.Session == nil {
		return nil, fmt.Errorf("no browser session available")
	}

	if ec.Session.Page == nil {
		page, err := ec.Session.Context.NewPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
		ec.Session.Page = page
	}

	ec.Log("info", fmt.Sprintf("opening %s", url))
	if err := ec.Session.Page.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}
	return map[string]any{"url": url}, nil
}

func navigate(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	url := stringField(config, "url")
	if url == "" {
		return nil, fmt.Errorf("navigate requires a url")
	}
	if err := requirePage(ec); err != nil {
		return nil, err
	}

	ec.Log("info", fmt.Sprintf("navigating to %s", url))
	if err := ec.Session.Page.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	ec.RecordAction("navigate", map[string]any{"url": url})
	return map[string]any{"url": url}, nil
}

func click(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	selector, err := locateElement(ctx, ec, config, elementTimeout)
	if err != nil {
		return nil, err
	}

	ec.Log("info", fmt.Sprintf("clicking %s", selector))
	if err := ec.Session.Page.Click(ctx, selector); err != nil {
		return nil, fmt.Errorf("click on %s failed: %w", selector, err)
	}
	ec.RecordAction("click", map[string]any{"selector": selector})
	return map[string]any{"effective_selector": selector}, nil
}

func inputText(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	value := stringField(config, "value")
	selector, err := locateElement(ctx, ec, config, elementTimeout)
	if err != nil {
		return nil, err
	}

	ec.Log("info", fmt.Sprintf("typing into %s: %s", selector, truncate(value, 50)))
	if err := ec.Session.Page.Fill(ctx, selector, value); err != nil {
		return nil, fmt.Errorf("input into %s failed: %w", selector, err)
	}
	if boolField(config, "press_enter", false) {
		if err := ec.Session.Page.Press(ctx, selector, "Enter"); err != nil {
			return nil, fmt.Errorf("pressing Enter failed: %w", err)
		}
	}
	ec.RecordAction("input_text", map[string]any{"selector": selector, "value": value})
	return map[string]any{"value": value, "effective_selector": selector}, nil
}

func screenshot(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	if err := requirePage(ec); err != nil {
		return nil, err
	}

	raw, err := ec.Session.Page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return map[string]any{"data": base64.StdEncoding.EncodeToString(raw)}, nil
}

func waitForElement(ctx context.Context, ec *execution.Context, config map[string]any) (any, error) {
	waitTime := time.Duration(floatField(config, "wait_time", 10)) * time.Second

	selector, err := locateElement(ctx, ec, config, waitTime)
	if err != nil {
		return nil, fmt.Errorf("element never appeared: %w", err)
	}
	ec.Log("info", fmt.Sprintf("element appeared: %s", selector))
	return map[string]any{"effective_selector": selector}, nil
}
