package dialogue

import (
	"regexp"
	"strings"
)

// Replies may embed bracketed directives that drive UI side effects in the
// surrounding application, e.g. "[DEMO_ACTION: highlight_pipeline]". They are
// stripped before the text is displayed or spoken.
var (
	actionRe = regexp.MustCompile(`\[DEMO_ACTION:\s*([^\]]*?)\s*\]`)
	// Removing a mid-line directive can leave a doubled space; line breaks
	// stay untouched.
	spaceRunRe = regexp.MustCompile(`[ \t]{2,}`)
	linePadRe  = regexp.MustCompile(`[ \t]*\n[ \t]*`)
)

// ExtractActions strips demo-action directives from a reply and returns the
// cleaned text plus the directive payloads in order of appearance.
func ExtractActions(reply string) (string, []string) {
	matches := actionRe.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(reply), nil
	}
	actions := make([]string, 0, len(matches))
	for _, m := range matches {
		if payload := m[1]; payload != "" {
			actions = append(actions, payload)
		}
	}
	clean := actionRe.ReplaceAllString(reply, "")
	clean = spaceRunRe.ReplaceAllString(clean, " ")
	clean = linePadRe.ReplaceAllString(clean, "\n")
	return strings.TrimSpace(clean), actions
}
