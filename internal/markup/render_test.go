// ABOUTME: Tests for markdown-to-dialect rendering.
// ABOUTME: Covers HTML, MarkdownV2, and plain output plus code protection and degradation.

package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_MarkdownIsPassthrough(t *testing.T) {
	text := "# Title\n\n**bold** `code`"
	assert.Equal(t, text, Render(text, DialectMarkdown))
}

func TestRender_HTMLInline(t *testing.T) {
	assert.Equal(t, "<b>bold</b> and <i>italic</i>",
		Render("**bold** and _italic_", DialectHTML))
	assert.Equal(t, "<s>gone</s>",
		Render("~~gone~~", DialectHTML))
	assert.Equal(t, `<a href="https://example.com">docs</a>`,
		Render("[docs](https://example.com)", DialectHTML))
}

func TestRender_HTMLHeadingBecomesBold(t *testing.T) {
	assert.Equal(t, "<b>Report</b>", Render("## Report", DialectHTML))
}

func TestRender_HTMLEscapesText(t *testing.T) {
	assert.Equal(t, "a &lt; b &amp; c", Render("a < b & c", DialectHTML))
}

func TestRender_HTMLProtectsCode(t *testing.T) {
	assert.Equal(t, "<code>a&lt;b&gt;</code>", Render("`a<b>`", DialectHTML))
	assert.Equal(t, "<pre>f(x) &lt; 1\n</pre>", Render("```\nf(x) < 1\n```", DialectHTML))
}

func TestRender_HTMLParagraphSpacing(t *testing.T) {
	assert.Equal(t, "one\n\ntwo", Render("one\n\ntwo", DialectHTML))
}

func TestRender_MarkdownV2EscapesReserved(t *testing.T) {
	assert.Equal(t, `hello\. world\!`, Render("hello. world!", DialectMarkdownV2))
}

func TestRender_MarkdownV2Inline(t *testing.T) {
	assert.Equal(t, "*bold* _italic_ ~gone~",
		Render("**bold** _italic_ ~~gone~~", DialectMarkdownV2))
	assert.Equal(t, "*Heading*", Render("# Heading", DialectMarkdownV2))
}

func TestRender_MarkdownV2EscapesLinkURL(t *testing.T) {
	assert.Equal(t, `https://x.test/a\)b`, escapeLinkURL("https://x.test/a)b"))
	assert.Equal(t, `https://x.test/a\\b`, escapeLinkURL(`https://x.test/a\b`))

	// Angle-bracket destinations may carry a literal ")".
	assert.Equal(t, `[docs](https://x.test/a\)b)`,
		Render("[docs](<https://x.test/a)b>)", DialectMarkdownV2))
}

func TestRender_MarkdownV2CodeNotEscaped(t *testing.T) {
	assert.Equal(t, "`a.b!c`", Render("`a.b!c`", DialectMarkdownV2))
	assert.Equal(t, "```go\nx := 1\n```", Render("```go\nx := 1\n```", DialectMarkdownV2))
}

func TestRender_PlainStripsMarkup(t *testing.T) {
	assert.Equal(t, "Head\n\nbold and docs (https://example.com)",
		Render("# Head\n\n**bold** and [docs](https://example.com)", DialectPlain))
}

func TestRender_PlainList(t *testing.T) {
	assert.Equal(t, "- first\n- second", Render("- first\n- second", DialectPlain))
}

func TestRender_SoftLineBreakKept(t *testing.T) {
	assert.Equal(t, "line one\nline two", Render("line one\nline two", DialectHTML))
}

func TestRender_MalformedDegradesToText(t *testing.T) {
	// Unclosed emphasis stays literal text instead of erroring.
	assert.Equal(t, "**unclosed", Render("**unclosed", DialectHTML))
}

func TestRender_EmptyInput(t *testing.T) {
	assert.Equal(t, "", Render("", DialectHTML))
}

func TestParseDialect(t *testing.T) {
	assert.Equal(t, DialectHTML, ParseDialect("html"))
	assert.Equal(t, DialectMarkdownV2, ParseDialect("markdownv2"))
	assert.Equal(t, DialectPlain, ParseDialect("plain"))
	assert.Equal(t, DialectMarkdown, ParseDialect("markdown"))
	assert.Equal(t, DialectMarkdown, ParseDialect(""))
}
