package blocks

import (
	"strconv"
	"strings"
)

// RichNode is a node in the rich-text document tree produced by the editor.
// The root of a textRich block is always a node of type "doc".
type RichNode struct {
	Type    string         `json:"type" validate:"notblank"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []RichNode     `json:"content,omitempty" validate:"dive"`
	Text    string         `json:"text,omitempty"`
	Marks   []RichMark     `json:"marks,omitempty" validate:"dive"`
}

// RichMark is inline formatting applied to a text node.
type RichMark struct {
	Type  string         `json:"type" validate:"notblank"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// EmptyDoc returns a document holding a single empty paragraph.
func EmptyDoc() RichNode {
	return RichNode{
		Type:    "doc",
		Content: []RichNode{{Type: "paragraph"}},
	}
}

func (n RichNode) checkRoot() ValidationErrors {
	if n.Type != "doc" {
		return ValidationErrors{{Field: "doc.type", Reason: "doc.type must be \"doc\""}}
	}
	var errs ValidationErrors
	n.walk("doc", func(path string, node RichNode) {
		if node.Type == "text" && len(node.Content) > 0 {
			errs = append(errs, ValidationError{
				Field:  path + ".content",
				Reason: "text nodes cannot have children",
			})
		}
	})
	return errs
}

func (n RichNode) walk(path string, visit func(string, RichNode)) {
	visit(path, n)
	for i, child := range n.Content {
		child.walk(path+".content["+strconv.Itoa(i)+"]", visit)
	}
}

// plainText concatenates the text of the tree, separating block-level nodes
// with newlines.
func (n RichNode) plainText() string {
	var b strings.Builder
	n.writeText(&b)
	return strings.TrimSpace(b.String())
}

func (n RichNode) writeText(b *strings.Builder) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteString("\n")
		return
	}
	for _, child := range n.Content {
		child.writeText(b)
	}
	switch n.Type {
	case "paragraph", "heading", "listItem", "blockquote", "codeBlock", "tableCell", "tableHeader":
		b.WriteString("\n")
	}
}
