// Package render turns enriched messages into HTML pages, JavaScript
// embeds, JSON arrays and RSS feeds. Output is written one message at a
// time so large feeds are never buffered whole.
package render

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/ssbc/ssb-viewer/ssb"
)

// ErrUnsupportedFormat is returned for output formats the viewer cannot
// produce.
var ErrUnsupportedFormat = errors.New("unsupported format")

// A Format is an output format, named by its file extension.
type Format string

const (
	HTML Format = "html"
	JS   Format = "js"
	JSON Format = "json"
	RSS  Format = "rss"
)

// ParseFormat maps a file extension to its format. An empty extension
// means HTML.
func ParseFormat(ext string) (Format, error) {
	switch f := Format(strings.ToLower(ext)); f {
	case "":
		return HTML, nil
	case HTML, JS, JSON, RSS:
		return f, nil
	}
	return "", fmt.Errorf("format %q: %w", ext, ErrUnsupportedFormat)
}

// ContentType returns the media type of f.
func (f Format) ContentType() string {
	switch f {
	case JS:
		return "text/javascript; charset=utf-8"
	case JSON:
		return "application/json"
	case RSS:
		return "application/rss+xml; charset=utf-8"
	}
	return "text/html; charset=utf-8"
}

// Page describes the document messages are rendered into.
type Page struct {
	// ID is the thread, feed or channel the page shows.
	ID string
	// Feed, when set, adds a profile header to HTML pages.
	Feed *ssb.Identity
	// ShowAllURL, when set, is linked at the end of a truncated feed.
	ShowAllURL string
}

// A Writer streams a rendered document.
type Writer interface {
	Begin() error
	Message(msg ssb.Message) error
	End() error
}

// New returns a Writer producing format f on w.
func New(f Format, w io.Writer, page Page, opts Options) (Writer, error) {
	opts = opts.WithDefaults()
	switch f {
	case HTML, "":
		return &htmlWriter{w: w, page: page, opts: opts}, nil
	case JS:
		return &jsWriter{w: w, opts: opts}, nil
	case JSON:
		return &jsonWriter{w: w}, nil
	case RSS:
		return &rssWriter{w: w, page: page, opts: opts}, nil
	}
	return nil, fmt.Errorf("format %q: %w", f, ErrUnsupportedFormat)
}

type htmlWriter struct {
	w    io.Writer
	page Page
	opts Options
}

type feedHeader struct {
	Name, Image string
	Description template.HTML
}

func (hw *htmlWriter) Begin() error {
	data := struct {
		ID    string
		Style template.CSS
		Feed  *feedHeader
	}{ID: hw.page.ID, Style: template.CSS(Stylesheet)}
	if f := hw.page.Feed; f != nil {
		desc, err := Context{Options: hw.opts}.Markdown(f.Description)
		if err != nil {
			return err
		}
		data.Feed = &feedHeader{Name: f.Name, Description: desc}
		if f.Image != "" {
			data.Feed.Image = hw.opts.ImgBase + f.Image
		}
	}
	return templates.ExecuteTemplate(hw.w, "page-begin", data)
}

func (hw *htmlWriter) Message(msg ssb.Message) error {
	a, err := article(hw.opts, msg)
	if err != nil {
		return fmt.Errorf("render %s: %w", msg.Key, err)
	}
	_, err = io.WriteString(hw.w, string(a))
	return err
}

func (hw *htmlWriter) End() error {
	return templates.ExecuteTemplate(hw.w, "page-end", hw.page)
}

// originPrelude defines SSB_VIEWER_ORIGIN as the origin of the script
// element being executed.
const originPrelude = "var SSB_VIEWER_ORIGIN = (function () {" +
	"var scripts = document.getElementsByTagName(\"script\")\n" +
	"var script = scripts[scripts.length-1]\n" +
	"if (!script) return location.origin\n" +
	"return script.src.replace(/\\/%.*$/, \"\")\n" +
	"}())\n"

// originExpr replaces the base token inside document.write string
// literals.
const originExpr = `" + SSB_VIEWER_ORIGIN + "/`

type jsWriter struct {
	w    io.Writer
	opts Options
}

func (jw *jsWriter) Begin() error {
	if jw.opts.BaseToken != "" {
		if _, err := io.WriteString(jw.w, originPrelude); err != nil {
			return err
		}
	}
	return jw.write(`<link rel=stylesheet href="` + template.HTMLEscapeString(jw.opts.Base) + `static/base.css">`)
}

func (jw *jsWriter) Message(msg ssb.Message) error {
	a, err := article(jw.opts, msg)
	if err != nil {
		return fmt.Errorf("render %s: %w", msg.Key, err)
	}
	return jw.write(string(a))
}

func (jw *jsWriter) End() error { return nil }

func (jw *jsWriter) write(fragment string) error {
	lit, err := json.Marshal(fragment)
	if err != nil {
		return err
	}
	out := "document.write(" + string(lit) + ")\n"
	if tok := jw.opts.BaseToken; tok != "" {
		out = strings.ReplaceAll(out, tok, originExpr)
	}
	_, err = io.WriteString(jw.w, out)
	return err
}

type jsonWriter struct {
	w     io.Writer
	count int
}

func (jw *jsonWriter) Begin() error {
	_, err := io.WriteString(jw.w, "[")
	return err
}

func (jw *jsonWriter) Message(msg ssb.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Key, err)
	}
	if jw.count > 0 {
		if _, err := io.WriteString(jw.w, ","); err != nil {
			return err
		}
	}
	jw.count++
	_, err = jw.w.Write(b)
	return err
}

func (jw *jsonWriter) End() error {
	_, err := io.WriteString(jw.w, "]")
	return err
}

type rssWriter struct {
	w    io.Writer
	page Page
	opts Options
}

type rssItem struct {
	XMLName     xml.Name `xml:"item"`
	Title       string   `xml:"title"`
	Description cdata    `xml:"description"`
	Link        string   `xml:"link"`
	PubDate     string   `xml:"pubDate"`
	GUID        string   `xml:"guid"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

func (rw *rssWriter) Begin() error {
	if _, err := io.WriteString(rw.w, `<?xml version="1.0" encoding="UTF-8" ?><rss version="2.0"><channel><title>`); err != nil {
		return err
	}
	if err := xml.EscapeText(rw.w, []byte(rw.page.ID+" | ssb-viewer")); err != nil {
		return err
	}
	_, err := io.WriteString(rw.w, "</title>")
	return err
}

// Message writes one item. Messages rendering to nothing are left out.
func (rw *rssWriter) Message(msg ssb.Message) error {
	body, err := Body(rw.opts, msg, true)
	if err != nil {
		return fmt.Errorf("render %s: %w", msg.Key, err)
	}
	if body == "" {
		return nil
	}
	kind := "private"
	if c := msg.Value.Content; c != nil && c.Type() != "" {
		kind = c.Type()
	}
	item := rssItem{
		Title:       authorOf(msg).Name + " | " + kind,
		Description: cdata{Text: string(body)},
		Link:        rw.opts.RefURL(msg.Key),
		PubDate:     msg.Value.Time().Format(http.TimeFormat),
		GUID:        msg.Key,
	}
	b, err := xml.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Key, err)
	}
	_, err = rw.w.Write(b)
	return err
}

func (rw *rssWriter) End() error {
	_, err := io.WriteString(rw.w, "</channel></rss>")
	return err
}
