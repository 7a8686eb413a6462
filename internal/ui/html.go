package ui

import (
	"html"
	"io"
	"strings"
)

var voidTags = map[string]bool{"input": true, "br": true, "hr": true}

// WriteHTML renders the tree as HTML. Hidden nodes get the hidden
// attribute.
func (n *Node) WriteHTML(w io.Writer) error {
	var b strings.Builder
	n.html(&b)
	_, err := io.WriteString(w, b.String())
	return err
}

// HTML renders the tree as an HTML string.
func (n *Node) HTML() string {
	var b strings.Builder
	n.html(&b)
	return b.String()
}

func (n *Node) html(b *strings.Builder) {
	if n == nil {
		return
	}
	if n.Tag == "" {
		b.WriteString(html.EscapeString(n.Text))
		return
	}
	b.WriteString("<" + n.Tag)
	if n.Class != "" {
		b.WriteString(` class="` + html.EscapeString(n.Class) + `"`)
	}
	for _, k := range sortedKeys(n.Attrs) {
		b.WriteString(" " + k + `="` + html.EscapeString(n.Attrs[k]) + `"`)
	}
	if n.Hidden {
		b.WriteString(" hidden")
	}
	b.WriteString(">")
	if voidTags[n.Tag] {
		return
	}
	b.WriteString(html.EscapeString(n.Text))
	for _, c := range n.Children {
		c.html(b)
	}
	b.WriteString("</" + n.Tag + ">")
}
