package ai

import (
	"context"
	"fmt"
	"strings"
)

// InterventionType classifies why a human must take over.
const (
	InterventionLogin   = "login"
	InterventionCaptcha = "captcha"
	Intervention2FA     = "2fa"
	InterventionPopup   = "popup"
	InterventionUnknown = "unknown"
)

// InterventionResult is the detector's verdict for one pre-node check.
type InterventionResult struct {
	NeedsIntervention bool    `json:"needs_intervention"`
	InterventionType  string  `json:"intervention_type"`
	Reason            string  `json:"reason"`
	Confidence        float64 `json:"confidence"`
}

const interventionPrompt = `You are watching a browser automation run. The next action is %q%s.
Look at the screenshot and decide whether a human must intervene before this action can proceed.
Intervention is needed for: login forms waiting for credentials, CAPTCHA challenges, two-factor prompts, or blocking popups/consent dialogs covering the page.
Respond with JSON only:
{"needs_intervention": true|false, "intervention_type": "login"|"captcha"|"2fa"|"popup"|"none", "reason": "<one sentence>", "confidence": 0.0-1.0}`

// Verdicts below this confidence are treated as needs-intervention.
const confidenceFloor = 0.3

// InterventionDetector asks the vision model whether the current page state
// blocks the upcoming action. Failures err on the side of asking the human:
// a wrong pause costs seconds, a wrong proceed can burn a login session.
type InterventionDetector struct {
	client *Client
}

// NewInterventionDetector creates a detector on the shared client.
func NewInterventionDetector(client *Client) *InterventionDetector {
	return &InterventionDetector{client: client}
}

// Detect classifies the screenshot. nodeType and description identify the
// action about to run.
func (d *InterventionDetector) Detect(ctx context.Context, screenshotB64, nodeType, description string) InterventionResult {
	detail := ""
	if description != "" {
		detail = fmt.Sprintf(" (%s)", description)
	}
	prompt := fmt.Sprintf(interventionPrompt, nodeType, detail)

	raw, err := d.client.CompleteVision(ctx, prompt, screenshotB64)
	if err != nil {
		return InterventionResult{
			NeedsIntervention: true,
			InterventionType:  InterventionUnknown,
			Reason:            fmt.Sprintf("intervention check failed: %v", err),
		}
	}

	parsed, err := ParseJSON(raw)
	if err != nil {
		return keywordFallback(raw)
	}

	result := InterventionResult{
		NeedsIntervention: BoolField(parsed, "needs_intervention"),
		InterventionType:  StringField(parsed, "intervention_type"),
		Reason:            StringField(parsed, "reason"),
		Confidence:        FloatField(parsed, "confidence"),
	}
	// An unsure "no" still pauses: below the floor the model is guessing.
	if !result.NeedsIntervention && result.Confidence < confidenceFloor {
		result.NeedsIntervention = true
		result.InterventionType = InterventionUnknown
		if result.Reason == "" {
			result.Reason = "low confidence verdict"
		}
	}
	if result.InterventionType == "" || result.InterventionType == "none" {
		if result.NeedsIntervention {
			result.InterventionType = InterventionUnknown
		} else {
			result.InterventionType = ""
		}
	}
	return result
}

// keywordFallback scans an unparseable response for intervention keywords.
func keywordFallback(raw string) InterventionResult {
	lower := strings.ToLower(raw)
	for keyword, kind := range map[string]string{
		"captcha":      InterventionCaptcha,
		"login":        InterventionLogin,
		"2fa":          Intervention2FA,
		"verification": Intervention2FA,
		"popup":        InterventionPopup,
	} {
		if strings.Contains(lower, keyword) {
			return InterventionResult{
				NeedsIntervention: true,
				InterventionType:  kind,
				Reason:            "keyword match in unstructured model response",
				Confidence:        0.3,
			}
		}
	}
	return InterventionResult{}
}
