// Package sanitize cleans user-supplied text, rich text and file names
// before they are stored.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	scriptBlock   = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	handlerDouble = regexp.MustCompile(`(?i)\son\w+\s*=\s*"[^"]*"`)
	handlerSingle = regexp.MustCompile(`(?i)\son\w+\s*=\s*'[^']*'`)
	handlerBare   = regexp.MustCompile(`(?i)\son\w+\s*=\s*[^\s>]+`)
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	dataHTML      = regexp.MustCompile(`(?i)data:text/html`)

	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	slugPattern  = regexp.MustCompile(`^[a-z0-9-]+$`)
	unsafeName   = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
)

// Text strips script blocks, inline event handlers and script-bearing URL
// schemes from plain text input and trims surrounding whitespace.
func Text(input string) string {
	if input == "" {
		return ""
	}
	cleaned := scriptBlock.ReplaceAllString(input, "")
	cleaned = handlerDouble.ReplaceAllString(cleaned, "")
	cleaned = handlerSingle.ReplaceAllString(cleaned, "")
	cleaned = handlerBare.ReplaceAllString(cleaned, "")
	cleaned = jsScheme.ReplaceAllString(cleaned, "")
	cleaned = dataHTML.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// allowed elements are re-emitted; anything else is unwrapped to its children
var allowed = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Strong: true, atom.Em: true, atom.U: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Blockquote: true, atom.A: true,
	atom.Img: true, atom.Code: true, atom.Pre: true, atom.Hr: true,
}

// void elements have no closing tag
var void = map[atom.Atom]bool{
	atom.Br: true, atom.Img: true, atom.Hr: true,
}

// dropped elements are removed together with their content
var dropped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Object: true,
	atom.Embed: true, atom.Template: true, atom.Noscript: true,
}

// HTML reduces rich text to the formatting allowlist. Links keep only href
// and title, images only src, alt and title; href and src must be http,
// https, mailto or relative.
func HTML(input string) string {
	if input == "" {
		return ""
	}
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(input), context)
	if err != nil {
		return html.EscapeString(input)
	}

	var b strings.Builder
	for _, n := range nodes {
		writeNode(&b, n)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(html.EscapeString(n.Data))
		return
	case html.ElementNode:
	default:
		return
	}

	if dropped[n.DataAtom] {
		return
	}
	if !allowed[n.DataAtom] {
		writeChildren(b, n)
		return
	}

	b.WriteString("<")
	b.WriteString(n.Data)
	for _, attr := range n.Attr {
		if keepAttr(n.DataAtom, attr) {
			b.WriteString(" " + attr.Key + `="` + html.EscapeString(attr.Val) + `"`)
		}
	}
	b.WriteString(">")

	if void[n.DataAtom] {
		return
	}
	writeChildren(b, n)
	b.WriteString("</" + n.Data + ">")
}

func keepAttr(a atom.Atom, attr html.Attribute) bool {
	if attr.Namespace != "" {
		return false
	}
	switch {
	case a == atom.A && attr.Key == "href", a == atom.Img && attr.Key == "src":
		return safeURL(attr.Val)
	case a == atom.A && attr.Key == "title", a == atom.Img && (attr.Key == "alt" || attr.Key == "title"):
		return true
	}
	return false
}

func writeChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(b, c)
	}
}

func safeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto":
		return true
	}
	return false
}

// FileName replaces every character outside [a-zA-Z0-9.-] with an underscore
func FileName(name string) string {
	return unsafeName.ReplaceAllString(name, "_")
}

// ValidEmail reports whether s looks like an email address
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidSlug reports whether s is a lowercase URL slug
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}
