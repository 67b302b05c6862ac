package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/ssbc/ssb-viewer/causal"
	"github.com/ssbc/ssb-viewer/collect"
	"github.com/ssbc/ssb-viewer/enrich"
	"github.com/ssbc/ssb-viewer/render"
	"github.com/ssbc/ssb-viewer/ssb"
)

// blobMaxAge is how long clients may cache content addressed blobs.
const blobMaxAge = "public, max-age=315360000"

var (
	// refPath matches a reference at the root, with its sigil and base64
	// characters either literal or percent encoded, and an optional format
	// extension.
	refPath = regexp.MustCompile(`^/((?:[%&@]|%25|%26|%40)(?:[A-Za-z0-9/+]|%2[Ff]|%2[Bb]){43}(?:=|%3[Dd])\.(?:sha256|ed25519))(?:\.([A-Za-z0-9]*))?$`)

	feedPath = regexp.MustCompile(`^(@[A-Za-z0-9/+]{43}=\.(?:ed25519|sha256))(?:\.([A-Za-z0-9]+))?$`)
)

// decodeRef undoes percent encoding in a matched ref path. A leading
// "%25", "%26" or "%40" is an encoded sigil only when the remainder then
// forms a whole reference.
func decodeRef(raw string) (string, error) {
	if len(raw) > 3 && raw[0] == '%' {
		switch raw[1:3] {
		case "25", "26", "40":
			sigil, _ := url.PathUnescape(raw[:3])
			if rest, err := url.PathUnescape(raw[3:]); err == nil && ssb.IsRef(sigil+rest) {
				return sigil + rest, nil
			}
		}
	}
	rest, err := url.PathUnescape(raw[1:])
	if err != nil {
		return "", err
	}
	return raw[:1] + rest, nil
}

func (a *API) serveRef(w http.ResponseWriter, r *http.Request) {
	m := refPath.FindStringSubmatch(r.URL.EscapedPath())
	if m == nil {
		a.respondError(w, http.StatusNotFound, fmt.Errorf("no route for %s: %w", r.URL.Path, ssb.ErrNotFound), "Not found")
		return
	}
	id, err := decodeRef(m[1])
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid reference")
		return
	}

	switch id[0] {
	case ssb.BlobSigil:
		a.serveBlob(w, r, id)
	case ssb.MsgSigil:
		if !ssb.IsMsg(id) {
			a.fail(w, fmt.Errorf("message %q: %w", id, ssb.ErrNotFound))
			return
		}
		a.serveThread(w, r, id, m[2])
	default:
		if !ssb.IsFeed(id) {
			a.fail(w, fmt.Errorf("feed %q: %w", id, ssb.ErrNotFound))
			return
		}
		a.serveFeed(w, r, id, m[2])
	}
}

func (a *API) serveThread(w http.ResponseWriter, r *http.Request, id, ext string) {
	format, err := render.ParseFormat(ext)
	if err != nil {
		a.fail(w, err)
		return
	}
	q := parseQuery(r.URL.Query())
	if !a.validateQuery(w, &q) {
		return
	}
	a.serveView(w, r, view{
		target: collect.Thread{ID: id, IncludeRoot: !q.NoRoot},
		format: format,
		page:   render.Page{ID: id},
		query:  q,
		causal: true,
	})
}

func (a *API) serveUser(w http.ResponseWriter, r *http.Request) {
	id, ext, ok := parseFeed(r.PathValue("feed"))
	if !ok {
		a.fail(w, fmt.Errorf("feed %q: %w", r.PathValue("feed"), ssb.ErrNotFound))
		return
	}
	a.serveFeed(w, r, id, ext)
}

func (a *API) serveFeed(w http.ResponseWriter, r *http.Request, id, ext string) {
	format, err := render.ParseFormat(ext)
	if err != nil {
		a.fail(w, err)
		return
	}
	q := parseQuery(r.URL.Query())
	if !a.validateQuery(w, &q) {
		return
	}
	v := view{
		target:  collect.UserFeed{ID: id, Limit: feedLimit(format, q)},
		format:  format,
		page:    render.Page{ID: id},
		query:   q,
		profile: id,
	}
	if !q.ShowAll {
		v.page.ShowAllURL = r.URL.EscapedPath() + "?showAll"
	}
	a.serveView(w, r, v)
}

func (a *API) serveSubscriptions(w http.ResponseWriter, r *http.Request) {
	id, ext, ok := parseFeed(r.PathValue("feed"))
	if !ok {
		a.fail(w, fmt.Errorf("feed %q: %w", r.PathValue("feed"), ssb.ErrNotFound))
		return
	}
	format, err := render.ParseFormat(ext)
	if err != nil {
		a.fail(w, err)
		return
	}
	q := parseQuery(r.URL.Query())
	if !a.validateQuery(w, &q) {
		return
	}
	a.serveView(w, r, view{
		target: collect.Subscriptions{ID: id},
		format: format,
		page:   render.Page{ID: id},
		query:  q,
	})
}

func (a *API) serveChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("channel")
	format := render.HTML
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		if f, err := render.ParseFormat(name[i+1:]); err == nil {
			format, name = f, name[:i]
		}
	}
	name = ssb.NormalizeChannel(name)
	if name == "" {
		a.fail(w, fmt.Errorf("empty channel: %w", ssb.ErrNotFound))
		return
	}
	q := parseQuery(r.URL.Query())
	if !a.validateQuery(w, &q) {
		return
	}
	v := view{
		target: collect.Channel{Name: name, Limit: feedLimit(format, q)},
		format: format,
		page:   render.Page{ID: "#" + name},
		query:  q,
	}
	if !q.ShowAll {
		v.page.ShowAllURL = r.URL.EscapedPath() + "?showAll"
	}
	a.serveView(w, r, v)
}

func parseFeed(s string) (id, ext string, ok bool) {
	m := feedPath.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func feedLimit(f render.Format, q query) int {
	switch {
	case q.ShowAll:
		return 0
	case f == render.RSS:
		return collect.SyndicationLimit
	}
	return collect.DefaultLimit
}

// A view is one collected and rendered document.
type view struct {
	target collect.Target
	format render.Format
	page   render.Page
	query  query
	// causal orders the messages by reply structure.
	causal bool
	// profile is the feed whose identity heads HTML pages.
	profile string
}

func (a *API) serveView(w http.ResponseWriter, r *http.Request, v view) {
	ctx := r.Context()
	msgs, err := a.collector.Collect(ctx, v.target)
	if err != nil {
		a.fail(w, err)
		return
	}
	if v.causal {
		msgs = causal.Sort(msgs)
	}

	h := w.Header()
	etag := a.etag(msgs, v.format, r.URL.RawQuery)
	h.Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if v.profile != "" && v.format == render.HTML {
		ident, err := a.identities.Get(ctx, v.profile)
		if err != nil {
			a.fail(w, err)
			return
		}
		v.page.Feed = &ident
	}

	h.Set("Content-Type", v.format.ContentType())
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	out, err := render.New(v.format, w, v.page, a.renderOptions(v.query, v.format))
	if err != nil {
		a.fail(w, err)
		return
	}

	// The status line is held back until the first message is ready so
	// that early failures still get a proper error response.
	started := false
	start := func() error {
		if started {
			return nil
		}
		started = true
		w.WriteHeader(http.StatusOK)
		return out.Begin()
	}
	rc := http.NewResponseController(w)
	e := &enrich.Enricher{
		Identities:  a.identities,
		Messages:    a.messages,
		Store:       a.Store,
		Blobs:       a.Blobs,
		Logger:      a.Logger,
		Concurrency: a.Concurrency,
	}
	err = e.Run(ctx, msgs, func(msg ssb.Message) error {
		if err := start(); err != nil {
			return err
		}
		if err := out.Message(msg); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})
	if err == nil {
		err = start()
	}
	if err == nil {
		err = out.End()
	}
	if err == nil {
		return
	}
	if !started {
		h.Del("ETag")
		a.fail(w, err)
		return
	}
	a.Logger.Error("Response aborted", "error", err.Error(), "path", r.URL.Path)
	panic(http.ErrAbortHandler)
}

// etag identifies a rendering of msgs: the same set of messages rendered
// by the same build with the same options yields the same tag.
func (a *API) etag(msgs []ssb.Message, f render.Format, rawQuery string) string {
	keys := make([]string, len(msgs))
	for i, m := range msgs {
		keys[i] = m.Key
	}
	sort.Strings(keys)

	h := blake3.New()
	for _, k := range keys {
		_, _ = io.WriteString(h, k+"\n")
	}
	_, _ = io.WriteString(h, a.Fingerprint+"\n"+string(f)+"\n"+rawQuery)
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}

func (a *API) renderOptions(q query, f render.Format) render.Options {
	opts := a.Options
	for _, o := range []struct {
		dst *string
		v   string
	}{
		{&opts.Base, q.Base},
		{&opts.MsgBase, q.MsgBase},
		{&opts.FeedBase, q.FeedBase},
		{&opts.BlobBase, q.BlobBase},
		{&opts.ImgBase, q.ImgBase},
		{&opts.EmojiBase, q.EmojiBase},
	} {
		if o.v != "" {
			*o.dst = o.v
		}
	}
	if opts.Base == "" && f == render.JS {
		opts.Base = "__BASE_" + ulid.Make().String() + "_"
		opts.BaseToken = opts.Base
	}
	return opts
}

func (a *API) serveBlob(w http.ResponseWriter, r *http.Request, id string) {
	etag := `"` + id + `"`
	if inm := r.Header.Get("If-None-Match"); inm == etag || inm == id {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	ctx := r.Context()
	has, err := a.Blobs.HasBlob(ctx, id)
	if err != nil {
		a.fail(w, err)
		return
	}
	if !has {
		a.fail(w, fmt.Errorf("blob %s: %w", id, ssb.ErrNotFound))
		return
	}
	rc, err := a.Blobs.GetBlob(ctx, id)
	if err != nil {
		a.fail(w, err)
		return
	}
	defer rc.Close()

	h := w.Header()
	h.Set("Cache-Control", blobMaxAge)
	h.Set("ETag", etag)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		a.Logger.Error("Blob transfer aborted", "blob", id, "error", err.Error())
		panic(http.ErrAbortHandler)
	}
}
