package markdown

import (
	"fmt"
	"regexp"
	"unicode"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/ssbc/ssb-viewer/ssb"
)

var (
	mentionPattern = regexp.MustCompile(`^@[A-Za-z0-9._\-+=/]*[A-Za-z0-9_\-+=/]`)
	channelPattern = regexp.MustCompile(`^#[\p{L}\p{N}_\-]+`)
	emojiPattern   = regexp.MustCompile(`^:([A-Za-z0-9_+\-]+):`)
)

// refParser turns bare references, @mentions and #channels into links whose
// destination is the reference itself.
type refParser struct{}

func (refParser) Trigger() []byte {
	return []byte{'@', '%', '&', '#'}
}

func (refParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	if wordChar(block.PrecendingCharacter()) {
		return nil
	}
	line, seg := block.PeekLine()
	var m []byte
	switch line[0] {
	case '%', '&':
		m = ssb.RefPattern.Find(line)
	case '@':
		if m = ssb.RefPattern.Find(line); m == nil {
			m = mentionPattern.Find(line)
		}
	case '#':
		m = channelPattern.Find(line)
	}
	if m == nil {
		return nil
	}
	link := ast.NewLink()
	link.Destination = m
	link.AppendChild(link, ast.NewTextSegment(text.NewSegment(seg.Start, seg.Start+len(m))))
	block.Advance(len(m))
	return link
}

func wordChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

var kindEmoji = ast.NewNodeKind("SSBEmoji")

// emoji is an inline image standing in for a :shortcode:.
type emoji struct {
	ast.BaseInline
	name string
	src  string
}

func (n *emoji) Kind() ast.NodeKind { return kindEmoji }

func (n *emoji) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Name": n.name, "Src": n.src}, nil)
}

// emojiParser recognizes shortcodes the Rewriter can resolve. Unresolved
// shortcodes are left to the text parser.
type emojiParser struct{}

func (emojiParser) Trigger() []byte {
	return []byte{':'}
}

func (emojiParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	rw := rewriterFrom(pc)
	if rw == nil || rw.Emoji == nil {
		return nil
	}
	line, _ := block.PeekLine()
	m := emojiPattern.FindSubmatch(line)
	if m == nil {
		return nil
	}
	src, ok := rw.Emoji(string(m[1]))
	if !ok {
		return nil
	}
	block.Advance(len(m[0]))
	return &emoji{name: string(m[1]), src: src}
}

type emojiRenderer struct{}

func (emojiRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(kindEmoji, renderEmoji)
}

func renderEmoji(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*emoji)
	name := util.EscapeHTML([]byte(n.name))
	src := util.EscapeHTML(util.URLEscape([]byte(n.src), false))
	_, err := fmt.Fprintf(w, `<img src="%s" alt=":%s:" title=":%s:" class="ssb-emoji" height="16" width="16">`, src, name, name)
	return ast.WalkSkipChildren, err
}
