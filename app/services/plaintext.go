package services

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/net/html"
)

var (
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// PlainTextRenderer derives the text/plain alternative from a final HTML body
type PlainTextRenderer struct {
	converter *md.Converter
}

func NewPlainTextRenderer() *PlainTextRenderer {
	converter := md.NewConverter("", true, nil)
	converter.Remove("img", "script", "style", "head")
	return &PlainTextRenderer{converter: converter}
}

// Render converts HTML to readable text, stripping tags when conversion fails
func (r *PlainTextRenderer) Render(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	out, err := r.converter.ConvertString(body)
	if err != nil || strings.TrimSpace(out) == "" {
		out = StripTags(body)
	}
	return tidy(out)
}

// StripTags keeps the decoded text of body, dropping script, style and head content.
// Paragraphs, divs and line breaks become newlines.
func StripTags(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var b strings.Builder
	hidden := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if hidden == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteByte('\n')
			case "script", "style", "head":
				if tt == html.StartTagToken {
					hidden++
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p":
				b.WriteString("\n\n")
			case "div":
				b.WriteByte('\n')
			case "script", "style", "head":
				hidden = max(hidden-1, 0)
			}
		}
	}
}

func tidy(s string) string {
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
