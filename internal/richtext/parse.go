package richtext

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"tether/internal/domain"
)

var inlineParser = parser.NewParser(
	parser.WithBlockParsers(
		util.Prioritized(parser.NewParagraphParser(), 1000),
	),
	parser.WithInlineParsers(
		util.Prioritized(parser.NewCodeSpanParser(), 100),
		util.Prioritized(parser.NewLinkParser(), 200),
		util.Prioritized(parser.NewEmphasisParser(), 500),
		util.Prioritized(extension.NewStrikethroughParser(), 500),
	),
)

// Parse converts markup to normalized spans.
func Parse(markup string) []domain.Span {
	source := []byte(markup)
	doc := inlineParser.Parse(text.NewReader(source))

	w := walker{source: source}
	_ = ast.Walk(doc, w.visit)
	return w.spans
}

// walker tracks nesting depth per marker so that nested or repeated
// markers (***x***, **a *b* c**) resolve to the union of their formats.
type walker struct {
	source []byte
	spans  []domain.Span

	bold, italic, strike, link int
	url                        string
	paragraphs                 int
}

func (w *walker) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	delta := 1
	if !entering {
		delta = -1
	}
	switch n := n.(type) {
	case *ast.Paragraph:
		if entering {
			if w.paragraphs > 0 {
				w.emit("\n\n", 0, "")
			}
			w.paragraphs++
		}
	case *ast.Emphasis:
		if n.Level >= 2 {
			w.bold += delta
		} else {
			w.italic += delta
		}
	case *extast.Strikethrough:
		w.strike += delta
	case *ast.Link:
		w.enterLink(string(n.Destination), delta)
	case *ast.Image:
		w.enterLink(string(n.Destination), delta)
	case *ast.CodeSpan:
		if entering {
			var b []byte
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					b = append(b, t.Segment.Value(w.source)...)
				}
			}
			w.emit(string(b), w.format()|domain.FormatMonospace, w.url)
		}
		return ast.WalkSkipChildren, nil
	case *ast.Text:
		if entering {
			v := util.UnescapePunctuations(n.Segment.Value(w.source))
			w.emit(string(v), w.format(), w.url)
			if n.SoftLineBreak() || n.HardLineBreak() {
				w.emit("\n", w.format(), w.url)
			}
		}
	case *ast.String:
		if entering {
			w.emit(string(n.Value), w.format(), w.url)
		}
	}
	return ast.WalkContinue, nil
}

func (w *walker) enterLink(dest string, delta int) {
	w.link += delta
	if w.link > 0 {
		w.url = dest
	} else {
		w.url = ""
	}
}

func (w *walker) format() domain.Format {
	var f domain.Format
	if w.bold > 0 {
		f |= domain.FormatBold
	}
	if w.italic > 0 {
		f |= domain.FormatItalic
	}
	if w.strike > 0 {
		f |= domain.FormatStrikethrough
	}
	if w.link > 0 {
		f |= domain.FormatLink
	}
	return f
}

func (w *walker) emit(s string, f domain.Format, url string) {
	w.spans = appendSpan(w.spans, domain.Span{Text: s, Format: f, URL: url})
}
