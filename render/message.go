package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"net/url"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/ssbc/ssb-viewer/about"
	"github.com/ssbc/ssb-viewer/ssb"
)

//go:embed templates/*.html
var templateFS embed.FS

// Stylesheet is the CSS shared by pages and embeds.
//
//go:embed templates/base.css
var Stylesheet []byte

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Placeholder is the link text of a vote whose target could not be read.
const Placeholder = "this"

const maxLinkedText = 75

type channelTag struct {
	Name, URL string
}

type articleData struct {
	Anchor     string
	Avatar     string
	AuthorURL  string
	AuthorName string
	Permalink  string
	ISOTime    string
	RelTime    string
	Body       template.HTML
}

// article renders msg with its author header as it appears in pages and
// embeds.
func article(opts Options, msg ssb.Message) (template.HTML, error) {
	body, err := Body(opts, msg, false)
	if err != nil {
		return "", err
	}
	author := authorOf(msg)
	t := msg.Value.Time()
	data := articleData{
		Anchor:     url.QueryEscape(msg.Key),
		AuthorURL:  opts.RefURL(msg.Value.Author),
		AuthorName: author.Name,
		Permalink:  opts.RefURL(msg.Key),
		ISOTime:    t.Format(isoMillis),
		RelTime:    humanize.RelTime(t, opts.Now(), "ago", "from now"),
		Body:       body,
	}
	if author.Image != "" {
		data.Avatar = opts.ImgBase + author.Image
	}
	return execute("article", data)
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func authorOf(msg ssb.Message) ssb.Identity {
	if a := msg.Annotations.Author; a != nil {
		return *a
	}
	return ssb.Identity{Name: about.FallbackName(msg.Value.Author)}
}

// Body renders the type specific part of msg. In syndication mode a vote
// whose target text is unknown renders nothing so feed readers skip it.
func Body(opts Options, msg ssb.Message, syndication bool) (template.HTML, error) {
	ctx := NewContext(opts, msg.Value.Content)
	switch c := msg.Value.Content.(type) {
	case *ssb.Post:
		text, err := ctx.Markdown(c.Text)
		if err != nil {
			return "", err
		}
		return execute("post", struct {
			Channel *channelTag
			Text    template.HTML
		}{ctx.channelTag(c.Channel), text})

	case *ssb.Vote:
		linked := msg.Annotations.VoteText
		if linked == nil && syndication {
			return "", nil
		}
		data := struct {
			Verb, URL, Text string
			Channel         *channelTag
		}{Verb: "Voted", URL: opts.RefURL(string(c.Vote.Link)), Text: Placeholder}
		if linked != nil {
			data.Text = truncate(*linked, maxLinkedText)
		}
		if c.Vote.Expression == "Dig" {
			data.Verb = "Liked"
			data.Channel = ctx.channelTag(c.Channel)
		}
		return execute("vote", data)

	case *ssb.Contact:
		verb := "Unfollowed"
		switch {
		case c.Blocking:
			verb = "Blocked"
		case c.Following:
			verb = "Followed"
		}
		name := string(c.Contact)
		if ident := msg.Annotations.Contact; ident != nil {
			name = ident.Name
		}
		return execute("contact", struct{ Verb, URL, Name string }{verb, opts.RefURL(string(c.Contact)), name})

	case *ssb.ChannelSub:
		verb := "Unsubscribed from"
		if c.Subscribed {
			verb = "Subscribed to"
		}
		name := ssb.NormalizeChannel(c.Channel)
		return execute("subscription", struct{ Verb, URL, Name string }{verb, opts.ChannelURL(name), name})

	case ssb.Private:
		return execute("status", "Wrote something private")

	case *ssb.About:
		return dump("Changed something in about", msg.Value.RawContent)

	case *ssb.DNS:
		return dump("Updated DNS", msg.Value.RawContent)

	case *ssb.Issue:
		text, err := ctx.Markdown(c.Text)
		if err != nil {
			return "", err
		}
		return execute("issue", struct {
			Repo, Title string
			Text        template.HTML
		}{msg.Annotations.RepoName, c.Title, text})

	case *ssb.GitUpdate:
		return execute("git-update", struct {
			Repo    string
			Commits []ssb.Commit
		}{msg.Annotations.RepoName, c.Commits})

	case *ssb.GitRepo:
		return execute("git-repo", c.Name)

	case *ssb.Pub:
		return execute("status", "Connected to the pub "+c.Address.Host)

	case *ssb.Blog:
		src := c.Summary
		if b := msg.Annotations.BlogBody; b != nil {
			src = *b
		}
		text, err := ctx.Markdown(src)
		if err != nil {
			return "", err
		}
		data := struct {
			Channel          *channelTag
			Title, Thumbnail string
			Text             template.HTML
		}{Channel: ctx.channelTag(c.Channel), Title: c.Title, Text: text}
		if c.Thumbnail != "" {
			data.Thumbnail = opts.ImgBase + string(c.Thumbnail)
		}
		return execute("blog", data)

	case *ssb.Gathering:
		return gathering(ctx, msg)
	}
	return dump("", msg.Value.RawContent)
}

func gathering(ctx Context, msg ssb.Message) (template.HTML, error) {
	type start struct{ ISO, Text string }
	data := struct {
		Title       string
		Start       *start
		Description template.HTML
		Counted     bool
		Attendees   int
	}{}
	if g := msg.Annotations.Gathering; g != nil {
		data.Title = g.Title
		if g.StartDateTime != nil {
			t := g.StartDateTime.Time()
			data.Start = &start{ISO: t.Format(isoMillis), Text: t.Format("Mon, 02 Jan 2006 15:04 MST")}
		}
		if g.Description != "" {
			desc, err := ctx.Markdown(g.Description)
			if err != nil {
				return "", err
			}
			data.Description = desc
		}
	}
	if n := msg.Annotations.Attendees; n != nil {
		data.Counted = true
		data.Attendees = *n
	}
	return execute("gathering", data)
}

func (c Context) channelTag(name string) *channelTag {
	name = ssb.NormalizeChannel(name)
	if name == "" {
		return nil
	}
	return &channelTag{Name: name, URL: c.ChannelURL(name)}
}

// dump shows content as indented JSON, optionally under a status line.
func dump(status string, raw json.RawMessage) (template.HTML, error) {
	var buf bytes.Buffer
	if len(raw) == 0 || json.Indent(&buf, raw, "", "  ") != nil {
		buf.Reset()
		buf.WriteString("{}")
	}
	return execute("dump", struct{ Status, Dump string }{status, buf.String()})
}

func execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
