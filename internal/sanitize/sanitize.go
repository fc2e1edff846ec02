// Package sanitize cleans rich text before it is persisted. Dashboard notes
// and Text visualization payloads accept user-authored HTML; everything else
// in the system treats the result as opaque safe text.
package sanitize

import "github.com/microcosm-cc/bluemonday"

// safeCSSProperties is the closed set of inline style properties that survive
// sanitization. Values carrying expression/javascript payloads are rejected by
// the policy engine itself.
var safeCSSProperties = []string{
	"color",
	"background-color",
	"text-align",
	"font-family",
	"text-decoration",
	"font-weight",
	"font-size",
}

var allowedElements = []string{
	"a", "abbr", "acronym", "blockquote", "code",
	"div", "span", "mark", "p",
	"h1", "h2", "h3", "h4", "h5", "h6",
	"b", "i", "strong", "em", "u", "hr",
	"ol", "ul", "li", "sub", "sup", "br",
}

// HTML sanitizes rich text with a fixed allowlist policy. Sanitization is
// idempotent: output passed back through comes out unchanged.
type HTML struct {
	policy *bluemonday.Policy
}

func NewHTML() *HTML {
	policy := bluemonday.NewPolicy()
	policy.AllowElements(allowedElements...)
	policy.AllowAttrs("href", "title").OnElements("a")
	policy.AllowAttrs("style").Globally()
	policy.AllowStyles(safeCSSProperties...).Globally()
	policy.SkipElementsContent("script", "style")
	return &HTML{policy: policy}
}

func (h *HTML) Sanitize(dirty string) string {
	return h.policy.Sanitize(dirty)
}
