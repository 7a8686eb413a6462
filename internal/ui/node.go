// Package ui provides the virtual view tree produced by controls and its
// HTML and terminal renderers.
package ui

import (
	"sort"
)

// Node is one element of the rendered view. Hidden nodes stay in the tree
// so showing them again does not rebuild the control.
type Node struct {
	Tag      string            `json:"tag"`
	Class    string            `json:"class,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Hidden   bool              `json:"hidden,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// El builds a node.
func El(tag, class string, children ...*Node) *Node {
	return &Node{Tag: tag, Class: class, Children: children}
}

// Text builds a text-only node.
func Text(tag, class, text string) *Node {
	return &Node{Tag: tag, Class: class, Text: text}
}

// Set sets an attribute and returns n.
func (n *Node) Set(key, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	return n
}

// Flag sets a boolean attribute when on is true.
func (n *Node) Flag(key string, on bool) *Node {
	if on {
		n.Set(key, key)
	}
	return n
}

// Attr returns an attribute value.
func (n *Node) Attr(key string) string { return n.Attrs[key] }

// Has reports whether a boolean attribute is set.
func (n *Node) Has(key string) bool {
	_, ok := n.Attrs[key]
	return ok
}

// Append adds children and returns n.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

// Find returns the first node, depth first, for which match is true.
func (n *Node) Find(match func(*Node) bool) *Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for _, c := range n.Children {
		if f := c.Find(match); f != nil {
			return f
		}
	}
	return nil
}

// FindClass returns the first node carrying class.
func (n *Node) FindClass(class string) *Node {
	return n.Find(func(x *Node) bool { return x.Class == class })
}

// FindAttr returns the first node whose attribute key equals value.
func (n *Node) FindAttr(key, value string) *Node {
	return n.Find(func(x *Node) bool { return x.Attrs[key] == value && x.Has(key) })
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
