package zotero

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

var noteMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// markdownToHTML renders markdown for a Zotero note. Notes accept basic
// HTML only, which goldmark's default output stays within.
func markdownToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := noteMarkdown.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render note html: %w", err)
	}
	return buf.String(), nil
}

// htmlToText recovers a plain-text approximation of note content, keeping
// heading and paragraph structure readable as markdown.
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "h1":
				sb.WriteString("# ")
			case "h2":
				sb.WriteString("## ")
			case "h3":
				sb.WriteString("### ")
			case "h4":
				sb.WriteString("#### ")
			case "pre":
				sb.WriteString("```\n")
			case "strong", "b":
				sb.WriteString("**")
			case "br":
				sb.WriteString("\n")
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2", "h3", "h4", "p", "div", "li":
				sb.WriteString("\n")
			case "pre":
				sb.WriteString("\n```\n")
			case "strong", "b":
				sb.WriteString("**")
			}
		}
	}
	walk(doc)

	return strings.TrimSpace(sb.String())
}
