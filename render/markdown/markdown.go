// Package markdown renders message text to HTML. Link, image and emoji
// targets are resolved through a Rewriter supplied with each call, so one
// Renderer serves any number of concurrent requests.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// A Rewriter resolves the targets found in a document.
type Rewriter struct {
	// Link maps a link destination to the href to emit. Returning false
	// drops the link and keeps its text.
	Link func(dest string) (string, bool)
	// Image maps an image source to the src to emit.
	Image func(src string) string
	// Emoji maps a :shortcode: name to an image URL. Returning false keeps
	// the shortcode as literal text.
	Emoji func(name string) (string, bool)
}

var rewriterKey = parser.NewContextKey()

func rewriterFrom(pc parser.Context) *Rewriter {
	rw, _ := pc.Get(rewriterKey).(*Rewriter)
	return rw
}

// Renderer converts markdown to HTML. Raw HTML in the source is omitted.
type Renderer struct {
	md goldmark.Markdown
}

// New returns a Renderer with GitHub flavoured markdown, hard line breaks,
// bare references and emoji shortcodes enabled.
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithInlineParsers(
				util.Prioritized(refParser{}, 900),
				util.Prioritized(emojiParser{}, 910),
			),
			parser.WithASTTransformers(
				util.Prioritized(linkTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			renderer.WithNodeRenderers(
				util.Prioritized(emojiRenderer{}, 500),
			),
		),
	)
	return &Renderer{md: md}
}

// Render converts src, resolving targets through rw. Nil callbacks leave
// the corresponding targets unchanged.
func (r *Renderer) Render(src string, rw Rewriter) (string, error) {
	pc := parser.NewContext()
	pc.Set(rewriterKey, &rw)
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf, parser.WithContext(pc)); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// linkTransformer rewrites link and image destinations once the document
// is parsed.
type linkTransformer struct{}

func (linkTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	rw := rewriterFrom(pc)
	if rw == nil {
		return
	}
	source := reader.Source()

	var targets []ast.Node
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindLink, ast.KindImage, ast.KindAutoLink:
			targets = append(targets, n)
		}
		return ast.WalkContinue, nil
	})

	for _, n := range targets {
		switch n := n.(type) {
		case *ast.Link:
			if rw.Link == nil {
				continue
			}
			href, ok := rw.Link(decodeDest(n.Destination))
			if !ok {
				unwrap(n)
				continue
			}
			n.Destination = encodeDest(href)
		case *ast.Image:
			if rw.Image != nil {
				n.Destination = encodeDest(rw.Image(decodeDest(n.Destination)))
			}
		case *ast.AutoLink:
			if rw.Link == nil {
				continue
			}
			label := n.Label(source)
			parent := n.Parent()
			href, ok := rw.Link(decodeDest(n.URL(source)))
			if !ok {
				parent.ReplaceChild(parent, n, ast.NewString(label))
				continue
			}
			link := ast.NewLink()
			link.Destination = encodeDest(href)
			link.AppendChild(link, ast.NewString(label))
			parent.ReplaceChild(parent, n, link)
		}
	}
}

// decodeDest resolves escapes and character references in a destination,
// giving the URL a browser will follow.
func decodeDest(dest []byte) string {
	b := util.UnescapePunctuations(dest)
	b = util.ResolveNumericReferences(b)
	b = util.ResolveEntityNames(b)
	return string(b)
}

// encodeDest undoes the reference resolution the HTML renderer applies to
// destinations, so href is emitted as given.
func encodeDest(href string) []byte {
	return []byte(strings.ReplaceAll(href, "&", "&amp;"))
}

// unwrap replaces n by its children.
func unwrap(n ast.Node) {
	parent := n.Parent()
	if parent == nil {
		return
	}
	for c := n.FirstChild(); c != nil; {
		next := c.NextSibling()
		n.RemoveChild(n, c)
		parent.InsertBefore(parent, n, c)
		c = next
	}
	parent.RemoveChild(parent, n)
}
