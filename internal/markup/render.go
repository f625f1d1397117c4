// ABOUTME: Renders the common markdown dialect into each platform's native rich-text syntax.
// ABOUTME: Parses once with goldmark, then renders the AST per target dialect.

package markup

import (
	"html"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Dialect selects the target rich-text syntax for Render.
type Dialect int

const (
	// DialectMarkdown passes text through unchanged (platform renders
	// markdown natively).
	DialectMarkdown Dialect = iota
	// DialectPlain strips markup down to readable plain text.
	DialectPlain
	// DialectHTML renders the Telegram-style HTML subset (b/i/s/code/pre/a).
	DialectHTML
	// DialectMarkdownV2 renders Telegram MarkdownV2 with escaping.
	DialectMarkdownV2
)

// ParseDialect maps a config string to a Dialect. Unknown values fall back
// to markdown passthrough.
func ParseDialect(s string) Dialect {
	switch strings.ToLower(s) {
	case "plain":
		return DialectPlain
	case "html":
		return DialectHTML
	case "markdownv2":
		return DialectMarkdownV2
	default:
		return DialectMarkdown
	}
}

var parser = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// Render converts markdown text into the given dialect. Code spans and fenced
// blocks are emitted from their literal content and never re-escaped.
// Anything the pipeline cannot handle degrades to the original text rather
// than failing.
func Render(text string, d Dialect) (out string) {
	if d == DialectMarkdown || text == "" {
		return text
	}

	defer func() {
		if recover() != nil {
			out = text
		}
	}()

	src := []byte(text)
	doc := parser.Parser().Parse(gmtext.NewReader(src))
	r := &renderer{src: src, dialect: d}
	return strings.TrimRight(r.blocks(doc), "\n")
}

// renderer walks the goldmark AST and emits one dialect.
type renderer struct {
	src     []byte
	dialect Dialect
}

// blocks renders the block-level children of parent, separated by blank lines.
func (r *renderer) blocks(parent ast.Node) string {
	var parts []string
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if s := r.block(n); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *renderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Heading:
		return r.bold(r.inlines(n))
	case *ast.Paragraph, *ast.TextBlock:
		return r.inlines(n)
	case *ast.FencedCodeBlock:
		return r.codeBlock(r.rawLines(n), string(n.Language(r.src)))
	case *ast.CodeBlock:
		return r.codeBlock(r.rawLines(n), "")
	case *ast.Blockquote:
		return quotePrefix(r.blocks(n))
	case *ast.List:
		return r.list(n)
	case *ast.ThematicBreak:
		return r.escape("---")
	case *ast.HTMLBlock:
		return r.escape(r.rawLines(n))
	default:
		if n.HasChildren() {
			return r.blocks(n)
		}
		return ""
	}
}

func (r *renderer) list(n *ast.List) string {
	var items []string
	num := n.Start
	if num == 0 {
		num = 1
	}
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		body := strings.ReplaceAll(r.blocks(item), "\n\n", "\n")
		var marker string
		if n.IsOrdered() {
			marker = r.escape(strconv.Itoa(num) + ". ")
			num++
		} else {
			marker = r.escape("- ")
		}
		items = append(items, marker+body)
	}
	return strings.Join(items, "\n")
}

// inlines renders the inline children of parent.
func (r *renderer) inlines(parent ast.Node) string {
	var b strings.Builder
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		b.WriteString(r.inline(n))
	}
	return b.String()
}

func (r *renderer) inline(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Text:
		s := r.escape(string(n.Segment.Value(r.src)))
		if n.SoftLineBreak() || n.HardLineBreak() {
			s += "\n"
		}
		return s
	case *ast.String:
		return r.escape(string(n.Value))
	case *ast.Emphasis:
		if n.Level >= 2 {
			return r.bold(r.inlines(n))
		}
		return r.italic(r.inlines(n))
	case *east.Strikethrough:
		return r.strike(r.inlines(n))
	case *ast.CodeSpan:
		return r.codeSpan(r.literal(n))
	case *ast.Link:
		return r.link(r.inlines(n), string(n.Destination))
	case *ast.AutoLink:
		url := string(n.URL(r.src))
		return r.link(r.escape(url), url)
	case *ast.Image:
		return r.link(r.inlines(n), string(n.Destination))
	case *ast.RawHTML:
		return r.escape(segmentsValue(n.Segments, r.src))
	default:
		if n.HasChildren() {
			return r.inlines(n)
		}
		return ""
	}
}

// literal collects the raw text of a node's children without escaping.
func (r *renderer) literal(parent ast.Node) string {
	var b strings.Builder
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if t, ok := n.(*ast.Text); ok {
			b.Write(t.Segment.Value(r.src))
		}
	}
	return b.String()
}

// rawLines collects the raw source lines of a block node.
func (r *renderer) rawLines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(r.src))
	}
	return b.String()
}

func segmentsValue(segs *gmtext.Segments, src []byte) string {
	var b strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

// Dialect emitters.

func (r *renderer) escape(s string) string {
	switch r.dialect {
	case DialectHTML:
		return html.EscapeString(s)
	case DialectMarkdownV2:
		return escapeMarkdownV2(s)
	default:
		return s
	}
}

func (r *renderer) bold(inner string) string {
	switch r.dialect {
	case DialectHTML:
		return "<b>" + inner + "</b>"
	case DialectMarkdownV2:
		return "*" + inner + "*"
	default:
		return inner
	}
}

func (r *renderer) italic(inner string) string {
	switch r.dialect {
	case DialectHTML:
		return "<i>" + inner + "</i>"
	case DialectMarkdownV2:
		return "_" + inner + "_"
	default:
		return inner
	}
}

func (r *renderer) strike(inner string) string {
	switch r.dialect {
	case DialectHTML:
		return "<s>" + inner + "</s>"
	case DialectMarkdownV2:
		return "~" + inner + "~"
	default:
		return inner
	}
}

func (r *renderer) codeSpan(code string) string {
	switch r.dialect {
	case DialectHTML:
		return "<code>" + html.EscapeString(code) + "</code>"
	case DialectMarkdownV2:
		return "`" + code + "`"
	default:
		return code
	}
}

func (r *renderer) codeBlock(code, lang string) string {
	switch r.dialect {
	case DialectHTML:
		return "<pre>" + html.EscapeString(code) + "</pre>"
	case DialectMarkdownV2:
		return "```" + lang + "\n" + code + "```"
	default:
		return strings.TrimRight(code, "\n")
	}
}

func (r *renderer) link(label, url string) string {
	switch r.dialect {
	case DialectHTML:
		return `<a href="` + html.EscapeString(url) + `">` + label + "</a>"
	case DialectMarkdownV2:
		return "[" + label + "](" + escapeLinkURL(url) + ")"
	default:
		if label == url {
			return url
		}
		return label + " (" + url + ")"
	}
}

// escapeMarkdownV2 escapes the characters Telegram MarkdownV2 reserves.
func escapeMarkdownV2(s string) string {
	const reserved = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeLinkURL escapes the characters MarkdownV2 reserves inside a link
// destination, where only ")" and "\" are special.
func escapeLinkURL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `)`, `\)`)
}

// quotePrefix prefixes every line with "> ".
func quotePrefix(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
