package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles used by the terminal renderer.
type Styles struct {
	Title    lipgloss.Style
	Group    lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Disabled lipgloss.Style
	Error    lipgloss.Style
	Header   lipgloss.Style
	Box      lipgloss.Style
}

// DefaultStyles returns the terminal palette.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Group:    lipgloss.NewStyle().Bold(true).Underline(true),
		Label:    lipgloss.NewStyle().Width(24).Foreground(lipgloss.Color("7")),
		Value:    lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		Disabled: lipgloss.NewStyle().Faint(true),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Box:      lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

// RenderTerminal renders a form tree for a terminal. Hidden nodes are
// skipped.
func RenderTerminal(n *Node, s Styles) string {
	var lines []string
	termLines(n, s, &lines)
	return s.Box.Render(strings.Join(lines, "\n"))
}

func termLines(n *Node, s Styles, out *[]string) {
	if n == nil || n.Hidden {
		return
	}
	switch n.Class {
	case "form-title":
		*out = append(*out, s.Title.Render(n.Text))
		return
	case "form-group":
		*out = append(*out, "", s.Group.Render(n.Attr("data-label")))
	case "control":
		*out = append(*out, termControl(n, s))
		return
	case "grid":
		*out = append(*out, termGrid(n, s)...)
		return
	}
	for _, c := range n.Children {
		termLines(c, s, out)
	}
}

func termControl(n *Node, s Styles) string {
	label := ""
	if l := n.FindClass("control-label"); l != nil {
		label = l.Text
	}
	value := ""
	if v := n.Find(func(x *Node) bool { return x.Has("value") }); v != nil {
		value = v.Attr("value")
	}
	if ta := n.Find(func(x *Node) bool { return x.Tag == "textarea" }); ta != nil {
		value = ta.Text
	}
	if sel := n.FindAttr("selected", "selected"); sel != nil {
		value = sel.Text
	}
	if p := n.FindClass("pending"); p != nil {
		value = p.Text
	}
	line := s.Label.Render(label) + s.Value.Render(value)
	if n.Has("disabled") {
		line = s.Disabled.Render(line)
	}
	if e := n.FindClass("error-message"); e != nil && e.Text != "" && !e.Hidden {
		line += "  " + s.Error.Render(e.Text)
	}
	return line
}

func termGrid(n *Node, s Styles) []string {
	var lines []string
	if l := n.FindClass("control-label"); l != nil {
		lines = append(lines, s.Label.Render(l.Text))
	}
	if head := n.FindClass("grid-header"); head != nil {
		cells := make([]string, 0, len(head.Children))
		for _, c := range head.Children {
			cells = append(cells, c.Text)
		}
		lines = append(lines, "  "+s.Header.Render(strings.Join(cells, " | ")))
	}
	if body := n.FindClass("grid-body"); body != nil {
		for _, row := range body.Children {
			cells := make([]string, 0, len(row.Children))
			for _, c := range row.Children {
				if c.Class == "grid-cell" {
					cells = append(cells, c.Text)
				}
			}
			lines = append(lines, "  "+strings.Join(cells, " | "))
		}
	}
	if e := n.FindClass("error-message"); e != nil && e.Text != "" {
		lines = append(lines, "  "+s.Error.Render(e.Text))
	}
	return lines
}
