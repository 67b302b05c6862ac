// Package api serves the log over HTTP as pages, embeds, JSON and RSS.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/ssbc/ssb-viewer/about"
	"github.com/ssbc/ssb-viewer/api/validator"
	"github.com/ssbc/ssb-viewer/cache"
	"github.com/ssbc/ssb-viewer/collect"
	"github.com/ssbc/ssb-viewer/render"
	"github.com/ssbc/ssb-viewer/ssb"
)

// API provides the HTTP endpoints of the viewer.
type API struct {
	Logger *slog.Logger
	Store  ssb.Store
	Blobs  ssb.BlobStore
	Val    *validator.Validator

	// Options are the default link prefixes; query parameters override
	// them per request.
	Options render.Options
	// Fingerprint identifies the running build and is mixed into ETags.
	Fingerprint string
	// StaticDir and EmojiDir, when set, are served under /static/ and
	// /emoji/.
	StaticDir string
	EmojiDir  string

	CacheSize   int
	Concurrency int
	// ScanLimit bounds how much of the log channel and subscription pages
	// read.
	ScanLimit int

	once       sync.Once
	mux        *http.ServeMux
	identities *cache.Memo[ssb.Identity]
	messages   *cache.Memo[ssb.Message]
	collector  *collect.Collector
}

func (a *API) setup() {
	a.identities = cache.New("identity", a.CacheSize, func(ctx context.Context, id string) (ssb.Identity, error) {
		return about.Aggregate(ctx, a.Store, id)
	})
	a.messages = cache.New("message", a.CacheSize, a.Store.Get)
	a.collector = &collect.Collector{
		Store:     a.Store,
		Get:       a.messages.Get,
		ScanLimit: a.ScanLimit,
	}
	if a.Val == nil {
		a.Val = validator.New()
	}
	a.setupRoutes()
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.Handle("GET /robots.txt", instrument("robots", http.HandlerFunc(a.robots)))
	mux.Handle("GET /user/{feed...}", instrument("user", http.HandlerFunc(a.serveUser)))
	mux.Handle("GET /user-feed/{feed...}", instrument("user-feed", http.HandlerFunc(a.serveSubscriptions)))
	mux.Handle("GET /channel/{channel...}", instrument("channel", http.HandlerFunc(a.serveChannel)))
	mux.Handle("GET /static/base.css", instrument("static", http.HandlerFunc(a.stylesheet)))
	if a.StaticDir != "" {
		mux.Handle("GET /static/", instrument("static", http.StripPrefix("/static/", http.FileServer(http.Dir(a.StaticDir)))))
	}
	if a.EmojiDir != "" {
		mux.Handle("GET /emoji/", instrument("emoji", http.StripPrefix("/emoji/", http.FileServer(http.Dir(a.EmojiDir)))))
	}
	mux.Handle("GET /", instrument("ref", http.HandlerFunc(a.serveRef)))

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setup)
	id := ulid.Make().String()
	w.Header().Set("X-Request-Id", id)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path, "request_id", id)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.Logger.Error("Could not write response", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	if status >= http.StatusInternalServerError {
		a.Logger.Error("Error", "error", err.Error())
	} else {
		a.Logger.Info("Request failed", "status", status, "error", err.Error())
	}
	a.respond(w, status, errorResponse{Error: msg})
}

// fail maps err to a status. Store failures are reported with their
// detail.
func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ssb.ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "Not found")
	case errors.Is(err, ssb.ErrInvalidID):
		a.respondError(w, http.StatusBadRequest, err, err.Error())
	case errors.Is(err, render.ErrUnsupportedFormat):
		a.respondError(w, http.StatusUnsupportedMediaType, err, "Invalid format")
	default:
		a.respondError(w, http.StatusInternalServerError, err, err.Error())
	}
}

func (a *API) validateQuery(w http.ResponseWriter, q *query) bool {
	if errs := a.Val.ValidateStruct(q); len(errs) > 0 {
		a.Logger.Info("Invalid query", "errors", len(errs))
		a.respond(w, http.StatusBadRequest, validationResponse{Errors: errs})
		return false
	}
	return true
}

func (a *API) robots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("User-agent: *"))
}

func (a *API) stylesheet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	if a.Fingerprint != "" {
		etag := `"` + a.Fingerprint + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	_, _ = w.Write(render.Stylesheet)
}
