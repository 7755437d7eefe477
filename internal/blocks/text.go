package blocks

import "strings"

// PlainText returns the reader-visible text of a block. Media blocks
// contribute their caption, quizzes their question.
func PlainText(b Block) string {
	switch p := b.Props.(type) {
	case TextRichProps:
		return p.Doc.plainText()
	case QuoteProps:
		return join(p.Text, p.Attribution)
	case ImageProps:
		return p.Caption
	case VideoProps:
		return p.Caption
	case CalloutProps:
		return join(p.Title, p.Body)
	case DownloadProps:
		return p.Label
	case QuizMCQProps:
		parts := []string{p.Stem}
		for _, opt := range p.Options {
			parts = append(parts, opt.Text)
		}
		return join(parts...)
	case QuizTFProps:
		return p.Statement
	case CTAProps:
		return join(p.Headline, p.Body, p.Button.Label)
	case ROICalculatorProps:
		return p.Title
	default:
		return ""
	}
}

// WordCount counts whitespace-separated words across blocks.
func WordCount(bs []Block) int {
	n := 0
	for _, b := range bs {
		n += len(strings.Fields(PlainText(b)))
	}
	return n
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
