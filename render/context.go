package render

import (
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/goldmark-emoji/definition"

	"github.com/ssbc/ssb-viewer/render/markdown"
	"github.com/ssbc/ssb-viewer/ssb"
)

// Options hold the URL prefixes used when turning references into links.
type Options struct {
	Base      string
	MsgBase   string
	FeedBase  string
	BlobBase  string
	ImgBase   string
	EmojiBase string

	// BaseToken, when set, stands in for the script origin in JS embeds
	// and is replaced at run time by the embedding page.
	BaseToken string

	// Now is the clock relative timestamps are computed against.
	Now func() time.Time
}

// WithDefaults fills empty prefixes. Everything derives from Base, except
// feed links which default to in-page anchors.
func (o Options) WithDefaults() Options {
	if o.Base == "" {
		o.Base = "/"
	}
	if o.MsgBase == "" {
		o.MsgBase = o.Base
	}
	if o.FeedBase == "" {
		o.FeedBase = "#"
	}
	if o.BlobBase == "" {
		o.BlobBase = o.Base
	}
	if o.ImgBase == "" {
		o.ImgBase = o.Base
	}
	if o.EmojiBase == "" {
		o.EmojiBase = o.Base + "emoji/"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// RefURL links a reference to its page on this viewer.
func (o Options) RefURL(ref string) string {
	return o.Base + url.QueryEscape(ref)
}

// ChannelURL links a channel page.
func (o Options) ChannelURL(name string) string {
	return o.Base + "channel/" + url.PathEscape(name)
}

var (
	md     = markdown.New()
	emojis = definition.Github()
)

// Context is what rendering one message needs: the request options plus
// the names the message itself binds to references.
type Context struct {
	Options
	Mentions map[string]string
}

// NewContext builds the context for rendering content c.
func NewContext(opts Options, c ssb.Content) Context {
	ctx := Context{Options: opts}
	if p, ok := c.(*ssb.Post); ok && len(p.Mentions) > 0 {
		ctx.Mentions = make(map[string]string, len(p.Mentions))
		for _, m := range p.Mentions {
			if m.Name != "" && m.Link != "" {
				ctx.Mentions[m.Name] = m.Link
			}
		}
	}
	return ctx
}

// Markdown renders text with this context's link rules.
func (c Context) Markdown(text string) (template.HTML, error) {
	out, err := md.Render(text, c.rewriter())
	if err != nil {
		return "", err
	}
	return template.HTML(out), nil
}

func (c Context) rewriter() markdown.Rewriter {
	return markdown.Rewriter{Link: c.link, Image: c.image, Emoji: c.emoji}
}

func (c Context) link(dest string) (string, bool) {
	if dest == "" {
		return "", false
	}
	switch dest[0] {
	case '#':
		return c.ChannelURL(dest[1:]), true
	case ssb.MsgSigil:
		return c.MsgBase + url.QueryEscape(dest), true
	case ssb.FeedSigil:
		if link, ok := c.Mentions[dest[1:]]; ok {
			dest = link
		}
		return c.FeedBase + url.QueryEscape(dest), true
	case ssb.BlobSigil:
		return c.BlobBase + url.QueryEscape(dest), true
	}
	if scriptURL(dest) {
		return "", false
	}
	return dest, true
}

// scriptURL reports whether dest runs script when followed. Browsers drop
// control characters and whitespace before reading the scheme.
func scriptURL(dest string) bool {
	s := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, dest)
	return strings.HasPrefix(strings.ToLower(s), "javascript:")
}

func (c Context) image(src string) string {
	if ssb.IsBlob(src) {
		return c.ImgBase + src
	}
	return src
}

func (c Context) emoji(name string) (string, bool) {
	if link, ok := c.Mentions[name]; ok {
		return c.BlobBase + url.QueryEscape(link), true
	}
	if _, ok := emojis.Get(name); ok {
		return c.EmojiBase + url.PathEscape(name) + ".png", true
	}
	return "", false
}
