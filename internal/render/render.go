// Package render formats tool results for people. MCP servers answer
// in lightweight markdown (bold headings, bullet lists); the CLI shows
// it as-is, as an HTML page, or as plain text with the markup removed.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Format selects an output rendering.
type Format string

const (
	FormatText  Format = "text"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
	FormatHTML  Format = "html"
)

// ParseFormat validates a -o value. Empty means FormatText.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatPlain, FormatJSON, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, plain, json or html)", s)
	}
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Fragment renders markdown to an HTML fragment. Raw HTML in the input
// is omitted.
func Fragment(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
{{.Body}}
</body></html>
`))

// Page renders markdown as a standalone HTML document.
func Page(title, src string) (string, error) {
	frag, err := Fragment(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = page.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(frag)})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}

// Plain renders markdown and extracts its visible text, keeping block
// structure as line breaks.
func Plain(src string) (string, error) {
	frag, err := Fragment(src)
	if err != nil {
		return "", err
	}
	nodes, err := nethtml.ParseFragment(strings.NewReader(frag), &nethtml.Node{
		Type:     nethtml.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", fmt.Errorf("parse rendered html: %w", err)
	}

	var b strings.Builder
	for _, n := range nodes {
		extractText(n, &b)
	}
	return cleanWhitespace(b.String()), nil
}

func extractText(n *nethtml.Node, w *strings.Builder) {
	switch n.Type {
	case nethtml.TextNode:
		if n.Parent != nil && isContainer(n.Parent.DataAtom) && strings.TrimSpace(n.Data) == "" {
			return
		}
		w.WriteString(n.Data)
		return
	case nethtml.ElementNode:
		switch {
		case n.DataAtom == atom.Br:
			// goldmark follows each <br> with a newline text node.
			return
		case n.DataAtom == atom.Li:
			w.WriteString("\n• ")
		case isBlock(n.DataAtom):
			w.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, w)
	}

	if n.Type == nethtml.ElementNode && (n.DataAtom == atom.Td || n.DataAtom == atom.Th) {
		w.WriteString("\t")
	}
}

// isContainer reports elements whose direct text is layout whitespace.
func isContainer(a atom.Atom) bool {
	switch a {
	case atom.Ul, atom.Ol, atom.Table, atom.Thead, atom.Tbody, atom.Tr:
		return true
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace trims every line, drops runs of blank lines and
// trims the result.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	prevEmpty := false
	for _, line := range lines {
		line = strings.TrimSpace(strings.Join(strings.Fields(line), " "))
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
