package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var extraNewlines = regexp.MustCompile(`\n{3,}`)

// ToPlainText strips markdown syntax from text, keeping only the readable
// content. Headings, emphasis, code spans, links and list markers disappear;
// block structure survives as line breaks.
func ToPlainText(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	parser := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := parser.Parse([]byte(markdown))

	var b strings.Builder
	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch node.Type {
		case blackfriday.Text, blackfriday.Code:
			if entering {
				b.Write(node.Literal)
			}
		case blackfriday.CodeBlock:
			if entering {
				b.Write(node.Literal)
				b.WriteString("\n")
			}
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			b.WriteString("\n")
		case blackfriday.Paragraph:
			if !entering && (node.Parent == nil || node.Parent.Type != blackfriday.Item) {
				b.WriteString("\n\n")
			}
		case blackfriday.Heading, blackfriday.BlockQuote:
			if !entering {
				b.WriteString("\n\n")
			}
		case blackfriday.Item, blackfriday.TableRow:
			if !entering {
				b.WriteString("\n")
			}
		case blackfriday.TableCell:
			if !entering && node.Next != nil {
				b.WriteString(" ")
			}
		}
		return blackfriday.GoToNext
	})

	text := extraNewlines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(text)
}
