package feed

import (
	"strings"
	"testing"
)

func TestCleanHTMLDropsScriptAndStyleContent(t *testing.T) {
	raw := `<p>Hello <script>alert(1)</script>world</p><style>p{color:red}</style>`
	got := cleanHTML(raw)
	if got != "Hello world" {
		t.Errorf("cleanHTML(%q) = %q, want %q", raw, got, "Hello world")
	}
	if strings.Contains(got, "alert") || strings.Contains(got, "color") {
		t.Errorf("script/style content leaked into %q", got)
	}
}

func TestCleanHTMLDropsMarkupAndAttributes(t *testing.T) {
	raw := `<a href="javascript:alert(1)" onclick="evil()">click</a> <b>here</b>`
	got := cleanHTML(raw)
	if got != "click here" {
		t.Errorf("cleanHTML(%q) = %q, want %q", raw, got, "click here")
	}
}

func TestCleanHTMLCollapsesWhitespace(t *testing.T) {
	raw := "<p>first   paragraph</p>\n\n<p>second\t\tparagraph</p>"
	got := cleanHTML(raw)
	if got != "first paragraph second paragraph" {
		t.Errorf("cleanHTML(%q) = %q", raw, got)
	}
}

func TestCleanHTMLEmptyInput(t *testing.T) {
	if got := cleanHTML("   "); got != "" {
		t.Errorf("cleanHTML(whitespace) = %q, want empty", got)
	}
}
