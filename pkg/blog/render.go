package blog

import (
	"github.com/google/safehtml"
	"github.com/google/safehtml/uncheckedconversions"
	"rsc.io/markdown"

	"github.com/mustardtree/portal/pkg/sanitize"
)

// RenderMarkdown converts post content to HTML. The rendered output goes
// through the sanitizer allowlist, so raw HTML in the source and link or
// image URLs from markdown syntax are checked alike.
func RenderMarkdown(content string) safehtml.HTML {
	p := markdown.Parser{}
	html := sanitize.HTML(markdown.ToHTML(p.Parse(content)))
	// sanitize.HTML emits only allowlisted tags with escaped text and
	// scheme-checked URLs.
	return uncheckedconversions.HTMLFromStringKnownToSatisfyTypeContract(html)
}

// RenderPost renders the body of post for the public detail page
func RenderPost(post Post) safehtml.HTML {
	return RenderMarkdown(post.Content)
}
