package transport

import "strings"

// ReadyMatcher decides whether a plain (non-JSON) output line signals that
// the child has finished initializing. Keyword scanning is inherently
// fragile, so hosts with stricter markers should supply their own matcher.
type ReadyMatcher func(line string) bool

var readyKeywords = []string{
	"Server: Ready",
	"Server started",
	"listening",
	"ready",
}

// DefaultReadyMatcher matches the readiness phrases commonly printed by
// stdio servers on startup. Case-sensitive substring checks.
func DefaultReadyMatcher(line string) bool {
	for _, kw := range readyKeywords {
		if strings.Contains(line, kw) {
			return true
		}
	}
	return false
}

// KeywordReadyMatcher builds a matcher over a custom keyword set.
func KeywordReadyMatcher(keywords []string) ReadyMatcher {
	return func(line string) bool {
		for _, kw := range keywords {
			if strings.Contains(line, kw) {
				return true
			}
		}
		return false
	}
}
