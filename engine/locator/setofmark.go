package locator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MarkedElement is one interactive element with a sequential mark ID and a
// pre-computed stable selector. The model picks by mark ID; the selector is
// what the engine actually drives.
type MarkedElement struct {
	MarkID   int    `json:"mark_id"`
	Type     string `json:"type"`
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

// interactiveSelector matches standard controls plus div/span elements that
// only look clickable (role attributes, button-ish class names).
const interactiveSelector = `button, a[href], input, select, textarea,` +
	`[role="button"], [role="link"], [role="checkbox"], [role="radio"],` +
	`[role="textbox"], [role="searchbox"], [role="combobox"],` +
	`div[onclick], span[onclick], div[role], span[role],` +
	`[class*="btn"], [class*="button"]`

var safeToken = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]+$`)

// ExtractInteractiveElements projects an HTML snapshot into a set-of-mark
// element list. Elements with no usable text or label are dropped; mark IDs
// are assigned sequentially over the survivors.
func ExtractInteractiveElements(html string, maxElements int) ([]MarkedElement, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page snapshot: %w", err)
	}

	var out []MarkedElement
	markID := 1
	doc.Find(interactiveSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= maxElements {
			return false
		}
		if isHidden(s) {
			return true
		}

		text := describe(s)
		if text == "" {
			return true
		}

		tag := goquery.NodeName(s)
		out = append(out, MarkedElement{
			MarkID:   markID,
			Type:     inferType(s, tag),
			Tag:      tag,
			Text:     text,
			Selector: StableSelector(doc, s),
		})
		markID++
		return true
	})

	return out, nil
}

// isHidden approximates visibility from static attributes. A DOM snapshot
// cannot see computed styles, so only explicit hiding counts.
func isHidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if t, _ := s.Attr("type"); t == "hidden" {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func describe(s *goquery.Selection) string {
	text := strings.TrimSpace(s.Text())
	if text == "" {
		for _, attr := range []string{"value", "placeholder", "title", "aria-label"} {
			if v, _ := s.Attr(attr); strings.TrimSpace(v) != "" {
				text = strings.TrimSpace(v)
				break
			}
		}
	}
	if len(text) > 50 {
		text = text[:50]
	}
	return text
}

func inferType(s *goquery.Selection, tag string) string {
	role, _ := s.Attr("role")
	class, _ := s.Attr("class")
	switch {
	case tag == "button" || role == "button" || strings.Contains(class, "btn"):
		return "button"
	case tag == "a" || role == "link":
		return "link"
	case tag == "input" || tag == "textarea":
		switch t, _ := s.Attr("type"); t {
		case "password":
			return "password"
		case "search":
			return "search"
		default:
			return "input"
		}
	case tag == "select":
		return "select"
	}
	return "element"
}

// LabelledControl resolves a label whose text matches the target to the
// control it references via for=. Controls with no text of their own are
// only reachable this way.
func LabelledControl(doc *goquery.Document, target string) string {
	lowTarget := strings.ToLower(target)
	var sel string
	doc.Find("label[for]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" || !strings.Contains(strings.ToLower(text), lowTarget) {
			return true
		}
		id, _ := s.Attr("for")
		if !safeToken.MatchString(id) {
			return true
		}
		sel = "#" + id
		return false
	})
	return sel
}

// StableSelector synthesizes a CSS selector for the element, preferring the
// most change-resistant anchor available. Every candidate is verified unique
// against the snapshot before being accepted.
func StableSelector(doc *goquery.Document, s *goquery.Selection) string {
	tag := goquery.NodeName(s)

	// Strategy 1: unique id
	if id, ok := s.Attr("id"); ok && safeToken.MatchString(id) {
		if sel := "#" + id; unique(doc, sel) {
			return sel
		}
	}

	// Strategy 2: parent-anchored nth-child path
	if sel := pathSelector(doc, s); sel != "" {
		return sel
	}

	// Strategy 3: data-testid
	if testID, ok := s.Attr("data-testid"); ok && testID != "" {
		if sel := fmt.Sprintf(`[data-testid="%s"]`, testID); unique(doc, sel) {
			return sel
		}
	}

	// Strategy 4: name attribute
	if name, ok := s.Attr("name"); ok && name != "" {
		if sel := fmt.Sprintf(`%s[name="%s"]`, tag, name); unique(doc, sel) {
			return sel
		}
	}

	// Strategy 5: href suffix for links
	if tag == "a" {
		if href, ok := s.Attr("href"); ok && href != "#" && !strings.HasPrefix(href, "javascript:") {
			if sel := fmt.Sprintf(`a[href*="%s"]`, hrefSuffix(href)); unique(doc, sel) {
				return sel
			}
		}
	}

	// Strategy 6: tag plus every stable class
	if class, _ := s.Attr("class"); class != "" {
		sel := tag
		for _, c := range strings.Fields(class) {
			if safeToken.MatchString(c) {
				sel += "." + c
			}
		}
		if sel != tag && unique(doc, sel) {
			return sel
		}
	}

	return fullPath(s)
}

// pathSelector anchors the element on the nearest parent with a stable
// class or id, addressing the element by child position under it.
func pathSelector(doc *goquery.Document, s *goquery.Selection) string {
	const maxDepth = 5

	current := s
	var path []string
	for depth := 0; depth < maxDepth; depth++ {
		parent := current.Parent()
		if parent.Length() == 0 || goquery.NodeName(parent) == "body" {
			break
		}

		tag := goquery.NodeName(current)
		nth := current.Index() + 1

		if class, _ := parent.Attr("class"); class != "" {
			for _, c := range strings.Fields(class) {
				if len(c) > 2 && safeToken.MatchString(c) {
					sel := fmt.Sprintf(".%s > %s:nth-child(%d)", c, tag, nth)
					if unique(doc, sel) {
						return sel
					}
					break
				}
			}
		}
		if id, ok := parent.Attr("id"); ok && safeToken.MatchString(id) {
			sel := fmt.Sprintf("#%s > %s:nth-child(%d)", id, tag, nth)
			if unique(doc, sel) {
				return sel
			}
		}

		path = append([]string{fmt.Sprintf("%s:nth-child(%d)", tag, nth)}, path...)
		current = parent
	}

	if len(path) >= 2 {
		sel := strings.Join(path, " > ")
		if unique(doc, sel) {
			return sel
		}
	}
	return ""
}

// fullPath is the last-resort selector: an absolute nth-child chain from
// body down to the element.
func fullPath(s *goquery.Selection) string {
	var path []string
	current := s
	for current.Length() > 0 {
		tag := goquery.NodeName(current)
		if tag == "body" || tag == "html" || tag == "#document" {
			break
		}
		path = append([]string{fmt.Sprintf("%s:nth-child(%d)", tag, current.Index()+1)}, path...)
		current = current.Parent()
	}
	return strings.Join(path, " > ")
}

func hrefSuffix(href string) string {
	parts := strings.Split(href, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	if len(href) > 30 {
		return href[len(href)-30:]
	}
	return href
}

func unique(doc *goquery.Document, selector string) bool {
	return doc.Find(selector).Length() == 1
}
