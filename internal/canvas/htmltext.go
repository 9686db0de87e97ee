package canvas

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// droppedElements never contribute text to a description.
var droppedElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Iframe: true,
	atom.Svg:    true,
	atom.Head:   true,
}

// PlainText converts an assignment description from Canvas HTML into
// readable text, keeping paragraph breaks, list bullets and link
// targets. The result is cut to at most max runes when max > 0.
func PlainText(raw string, max int) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return truncate(collapse(raw), max)
	}

	var b strings.Builder
	walk(doc, &b)
	return truncate(collapse(b.String()), max)
}

func walk(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteByte(' ')
		}
		return
	case html.ElementNode:
		if droppedElements[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.Li:
			b.WriteString("\n- ")
		case atom.Br:
			b.WriteByte('\n')
		case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
			atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Blockquote, atom.Pre:
			b.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}

	if n.Type == html.ElementNode && n.DataAtom == atom.A {
		for _, a := range n.Attr {
			if a.Key == "href" && strings.HasPrefix(a.Val, "http") {
				b.WriteString("(" + a.Val + ") ")
			}
		}
	}
}

// collapse squeezes runs of blanks within lines and keeps at most one
// empty line between paragraphs.
func collapse(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max])) + "…"
}
