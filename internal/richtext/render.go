package richtext

import (
	"strings"

	"tether/internal/domain"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

// Markdown renders spans as markup that Parse reads back.
func Markdown(spans []domain.Span) string {
	var b strings.Builder
	for _, s := range spans {
		var t string
		if s.Format.Has(domain.FormatMonospace) {
			t = codeSpan(s.Text)
		} else {
			t = markdownEscaper.Replace(s.Text)
		}
		if s.Format.Has(domain.FormatStrikethrough) {
			t = "~~" + t + "~~"
		}
		if s.Format.Has(domain.FormatItalic) {
			t = "*" + t + "*"
		}
		if s.Format.Has(domain.FormatBold) {
			t = "**" + t + "**"
		}
		if s.Format.Has(domain.FormatLink) {
			t = "[" + t + "](" + destination(s.URL) + ")"
		}
		b.WriteString(t)
	}
	return b.String()
}

func codeSpan(s string) string {
	if !strings.Contains(s, "`") {
		return "`" + s + "`"
	}
	return "`` " + s + " ``"
}

func destination(url string) string {
	if strings.ContainsAny(url, " ()<>") {
		return "<" + strings.NewReplacer("<", "%3C", ">", "%3E").Replace(url) + ">"
	}
	return url
}

// Chat renders spans with the inline markers chat networks display.
// Links become "text (url)" unless the text is the url.
func Chat(spans []domain.Span) string {
	var b strings.Builder
	for _, s := range spans {
		t := s.Text
		if s.Format.Has(domain.FormatMonospace) {
			t = "```" + t + "```"
		}
		if s.Format.Has(domain.FormatStrikethrough) {
			t = "~" + t + "~"
		}
		if s.Format.Has(domain.FormatItalic) {
			t = "_" + t + "_"
		}
		if s.Format.Has(domain.FormatBold) {
			t = "*" + t + "*"
		}
		if s.Format.Has(domain.FormatLink) && s.URL != s.Text {
			t += " (" + s.URL + ")"
		}
		b.WriteString(t)
	}
	return b.String()
}
