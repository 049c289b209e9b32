// Package classifier decides whether free-text input expresses an exit
// intent. Matching is a fixed per-phrase set; adding a phrase touches only
// the set below, never the call sites.
package classifier

import "strings"

var exitPhrases = map[string]struct{}{
	"request exit": {},
	"exit request": {},
	"طلب خروج":     {},
}

// IsExitRequest reports whether the message, after trimming and lowercasing,
// matches a known exit trigger phrase. Unmatched input is simply false; there
// are no error cases.
func IsExitRequest(text string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	_, ok := exitPhrases[cleaned]
	return ok
}
