// Package sanitize strips markup from catalog text supplied by API callers
// before it is embedded into prompts.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// htmlElement matches an opening or closing tag of a real HTML element.
// Type parameters such as List<String> or vector<int> do not match.
var htmlElement = regexp.MustCompile(`(?i)</?(?:a|abbr|b|blockquote|body|br|button|code|div|em|embed|form|h[1-6]|head|hr|html|i|iframe|img|input|li|link|meta|object|ol|p|pre|script|span|strong|style|svg|table|td|textarea|th|title|tr|u|ul)(?:\s[^<>]*)?/?>`)

// StrictPolicy returns a shared policy that removes every element and
// attribute, including script and style bodies.
func StrictPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// ContainsHTML reports whether s holds at least one HTML element tag.
func ContainsHTML(s string) bool {
	return strings.ContainsAny(s, "<>") && htmlElement.MatchString(s)
}

// PlainText removes HTML from s. Text without an HTML element tag is returned
// unchanged so code with angle brackets survives byte for byte.
func PlainText(s string) string {
	if !ContainsHTML(s) {
		return s
	}
	return strings.TrimSpace(html.UnescapeString(StrictPolicy().Sanitize(s)))
}
