package sanitize

import (
	"strings"
	"testing"
)

func TestSanitizeStripsScripts(t *testing.T) {
	h := NewHTML()

	out := h.Sanitize(`<p>hello</p><script>alert("x")</script>`)
	if strings.Contains(out, "script") || strings.Contains(out, "alert") {
		t.Errorf("script content survived: %q", out)
	}
	if !strings.Contains(out, "<p>hello</p>") {
		t.Errorf("allowed markup removed: %q", out)
	}
}

func TestSanitizeKeepsAllowedMarkup(t *testing.T) {
	h := NewHTML()

	in := `<h2>Title</h2><ul><li><strong>bold</strong> and <em>em</em></li></ul>`
	if out := h.Sanitize(in); out != in {
		t.Errorf("allowed markup changed: %q", out)
	}
}

func TestSanitizeAnchorAttributes(t *testing.T) {
	h := NewHTML()

	out := h.Sanitize(`<a href="https://example.com" title="docs" onclick="steal()">link</a>`)
	if !strings.Contains(out, `href="https://example.com"`) {
		t.Errorf("href removed: %q", out)
	}
	if strings.Contains(out, "onclick") {
		t.Errorf("event handler survived: %q", out)
	}
}

func TestSanitizeFiltersStyleProperties(t *testing.T) {
	h := NewHTML()

	out := h.Sanitize(`<span style="color: red; position: fixed">text</span>`)
	if !strings.Contains(out, "color: red") {
		t.Errorf("safe style property removed: %q", out)
	}
	if strings.Contains(out, "position") {
		t.Errorf("unsafe style property survived: %q", out)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	h := NewHTML()

	in := `<div style="text-align: center"><b>x</b> &amp; <i>y</i><img src="x.png"></div>`
	once := h.Sanitize(in)
	if twice := h.Sanitize(once); twice != once {
		t.Errorf("second pass changed output: %q vs %q", once, twice)
	}
}

func TestSanitizePlainTextUnchanged(t *testing.T) {
	h := NewHTML()

	if out := h.Sanitize("plain notes, nothing fancy"); out != "plain notes, nothing fancy" {
		t.Errorf("plain text changed: %q", out)
	}
}
