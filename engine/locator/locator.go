package locator

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/schemaflow/schemaflow/engine/ai"
	"github.com/schemaflow/schemaflow/engine/browser"
)

// Logger is the logging surface the locator needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// LLM is the model call the locator makes. *ai.Client satisfies it.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LocationError reports that every location path was exhausted. Screenshot
// holds a base64 JPEG of the page at failure time when one could be taken.
type LocationError struct {
	Target     string
	Screenshot string
}

func (e *LocationError) Error() string {
	msg := fmt.Sprintf("unable to locate element: %s", e.Target)
	if e.Screenshot != "" {
		msg += " (debug screenshot captured)"
	}
	return msg
}

// Result is a successful location: the selector to drive plus how it was
// found. Method is "css" (saved selector still valid), "ai" (set-of-mark
// pick) or "fallback" (heuristic ladder).
type Result struct {
	Selector   string  `json:"selector"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Method     string  `json:"method"`
}

const (
	maxMarkedElements = 50
	verifyTimeout     = 3 * time.Second
	altVerifyTimeout  = 1500 * time.Millisecond
	stabilityTimeout  = 3 * time.Second

	// Below this the model is guessing; go straight to the fallback ladder.
	minAIConfidence = 0.1
)

// HybridLocator resolves element descriptions to CSS selectors. Saved
// selectors are tried first; when one has gone stale the page is projected
// into a set-of-mark element list and the model picks.
type HybridLocator struct {
	page browser.Page
	llm  LLM
	log  Logger
}

// New creates a locator for one page. llm may be nil, disabling the AI path.
func New(page browser.Page, llm LLM, log Logger) *HybridLocator {
	return &HybridLocator{page: page, llm: llm, log: log}
}

// Locate resolves a target. savedSelector is tried first and wins with
// confidence 1.0; otherwise the AI path runs when enabled, then the
// heuristic fallback ladder.
func (l *HybridLocator) Locate(ctx context.Context, targetDescription, savedSelector string, enableAI bool, timeout time.Duration) (Result, error) {
	if savedSelector != "" {
		if l.verify(ctx, savedSelector, timeout) {
			l.log.Info("saved selector still valid", "selector", savedSelector)
			return Result{
				Selector:   savedSelector,
				Confidence: 1.0,
				Reasoning:  "saved CSS selector matched",
				Method:     "css",
			}, nil
		}
		l.log.Warn("saved selector is stale", "selector", savedSelector)
	}

	if enableAI && l.llm != nil {
		if res, err := l.locateWithAI(ctx, targetDescription); err == nil {
			return res, nil
		} else {
			l.log.Warn("AI location failed", "target", targetDescription, "error", err)
		}
	}

	if res, ok := l.tryFallbacks(ctx, targetDescription); ok {
		return res, nil
	}

	return Result{}, &LocationError{
		Target:     targetDescription,
		Screenshot: l.captureDebugScreenshot(ctx),
	}
}

// captureDebugScreenshot grabs the page state at exhaustion so the failure
// can be diagnosed after the fact. Best-effort.
func (l *HybridLocator) captureDebugScreenshot(ctx context.Context) string {
	raw, err := l.page.Screenshot(ctx)
	if err != nil || len(raw) == 0 {
		l.log.Warn("debug screenshot failed", "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func (l *HybridLocator) locateWithAI(ctx context.Context, targetDescription string) (Result, error) {
	l.page.WaitForNetworkIdle(ctx, stabilityTimeout)

	html, err := l.page.Content(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to snapshot page: %w", err)
	}

	elements, err := ExtractInteractiveElements(html, maxMarkedElements)
	if err != nil {
		return Result{}, err
	}
	if len(elements) == 0 {
		return Result{}, fmt.Errorf("no interactive elements on page")
	}
	l.log.Debug("extracted interactive elements", "count", len(elements))

	raw, err := l.llm.Complete(ctx, buildPrompt(l.page.URL(), targetDescription, elements))
	if err != nil {
		return Result{}, fmt.Errorf("llm call failed: %w", err)
	}

	parsed, err := ai.ParseJSON(raw)
	if err != nil {
		return Result{}, fmt.Errorf("unparseable locator response: %w", err)
	}

	confidence := ai.FloatField(parsed, "confidence")
	reasoning := ai.StringField(parsed, "reasoning")
	if confidence < minAIConfidence {
		return Result{}, fmt.Errorf("model confidence too low (%.2f): %s", confidence, reasoning)
	}

	// The mark ID is authoritative: the model is asked to echo the
	// pre-computed selector, but when it free-hands one that does not
	// match anything, the marked element it picked still does.
	if sel := ai.StringField(parsed, "selector"); sel != "" && l.verify(ctx, sel, verifyTimeout) {
		l.log.Info("AI located element", "selector", sel, "confidence", confidence)
		return Result{Selector: sel, Confidence: confidence, Reasoning: reasoning, Method: "ai"}, nil
	}

	if el := findByMarkID(elements, parsed["mark_id"]); el != nil && el.Selector != "" {
		if l.verify(ctx, el.Selector, verifyTimeout) {
			l.log.Info("using pre-computed selector for picked mark", "selector", el.Selector)
			return Result{Selector: el.Selector, Confidence: confidence, Reasoning: reasoning, Method: "ai"}, nil
		}
	}

	if alts, ok := parsed["alternatives"].([]any); ok {
		for _, alt := range alts {
			if el := findByMarkID(elements, alt); el != nil && el.Selector != "" {
				if l.verify(ctx, el.Selector, altVerifyTimeout) {
					l.log.Info("using alternative mark", "selector", el.Selector)
					return Result{Selector: el.Selector, Confidence: confidence, Reasoning: reasoning, Method: "ai"}, nil
				}
			}
		}
	}

	return Result{}, fmt.Errorf("no valid selector for model pick")
}

// tryFallbacks is the deterministic ladder used when the model cannot help:
// match the marked elements by text, resolve label text to its control, then
// probe common labelling attributes on the live page.
func (l *HybridLocator) tryFallbacks(ctx context.Context, targetDescription string) (Result, bool) {
	if html, err := l.page.Content(ctx); err == nil {
		if elements, err := ExtractInteractiveElements(html, maxMarkedElements); err == nil {
			if el := matchByText(elements, targetDescription); el != nil {
				if l.verify(ctx, el.Selector, altVerifyTimeout) {
					l.log.Info("fallback text match", "selector", el.Selector, "target", targetDescription)
					return Result{
						Selector:   el.Selector,
						Confidence: 0.6,
						Reasoning:  "text match on interactive element",
						Method:     "fallback",
					}, true
				}
			}
		}
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			if sel := LabelledControl(doc, targetDescription); sel != "" && l.verify(ctx, sel, altVerifyTimeout) {
				l.log.Info("fallback label match", "selector", sel, "target", targetDescription)
				return Result{
					Selector:   sel,
					Confidence: 0.6,
					Reasoning:  "label text references the control",
					Method:     "fallback",
				}, true
			}
		}
	}

	for _, attr := range []string{"placeholder", "aria-label", "title", "name", "data-testid"} {
		sel := fmt.Sprintf(`[%s*="%s"]`, attr, targetDescription)
		count, err := l.page.Count(ctx, sel)
		if err != nil || count == 0 {
			continue
		}
		l.log.Info("fallback attribute match", "attribute", attr, "matches", count)
		return Result{
			Selector:   sel,
			Confidence: 0.6,
			Reasoning:  fmt.Sprintf("%s attribute contains target text", attr),
			Method:     "fallback",
		}, true
	}

	return Result{}, false
}

func (l *HybridLocator) verify(ctx context.Context, selector string, timeout time.Duration) bool {
	if err := l.page.WaitForSelector(ctx, selector, timeout); err != nil {
		return false
	}
	count, err := l.page.Count(ctx, selector)
	return err == nil && count > 0
}

// matchByText prefers exact text matches, then case-insensitive substring
// matches, button/link/input types first.
func matchByText(elements []MarkedElement, target string) *MarkedElement {
	lowTarget := strings.ToLower(target)
	var fuzzy *MarkedElement
	for i := range elements {
		el := &elements[i]
		if el.Text == target {
			return el
		}
		if fuzzy == nil && strings.Contains(strings.ToLower(el.Text), lowTarget) {
			fuzzy = el
		}
	}
	return fuzzy
}

func findByMarkID(elements []MarkedElement, id any) *MarkedElement {
	want, ok := id.(float64)
	if !ok {
		return nil
	}
	for i := range elements {
		if elements[i].MarkID == int(want) {
			return &elements[i]
		}
	}
	return nil
}

func buildPrompt(url, target string, elements []MarkedElement) string {
	var b strings.Builder
	for _, el := range elements {
		fmt.Fprintf(&b, "[%d] <%s> %q (tag=%s, selector=%s)\n", el.MarkID, el.Type, el.Text, el.Tag, el.Selector)
	}

	return fmt.Sprintf(`You are a web automation assistant. Identify which element the user wants to interact with.

Current Page URL: %s
User Target Description: %q

Available Interactive Elements (Set-of-Mark format):
%s
Instructions:
1. Each element has a unique Mark ID in square brackets [1], [2], etc.
2. Each element has a pre-calculated CSS selector (shown as selector=...).
3. Prefer returning the pre-calculated selector verbatim.
4. Pick the element that best matches the user's description by type, text and context.

Return JSON only, no markdown:
{"mark_id": <number or null>, "selector": "<CSS selector>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>", "alternatives": [<other plausible mark IDs>]}`, url, target, b.String())
}

// DebugResult is the reply payload for interactive locator testing from the
// workflow editor.
type DebugResult struct {
	Success    bool    `json:"success"`
	Selector   string  `json:"selector,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Method     string  `json:"method,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Debug runs a full locate and packages the outcome for the editor.
func Debug(ctx context.Context, page browser.Page, llm LLM, log Logger, targetDescription, savedSelector string) DebugResult {
	res, err := New(page, llm, log).Locate(ctx, targetDescription, savedSelector, true, 10*time.Second)
	if err != nil {
		return DebugResult{Success: false, Error: err.Error()}
	}
	return DebugResult{
		Success:    true,
		Selector:   res.Selector,
		Confidence: res.Confidence,
		Method:     res.Method,
		Reasoning:  res.Reasoning,
	}
}

// SelectorKey derives the cache key under which a healed selector for a
// node config field is stored.
func SelectorKey(nodeType, nodeID, field string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", nodeType, nodeID, field)))
	return fmt.Sprintf("%x", sum)[:16]
}
