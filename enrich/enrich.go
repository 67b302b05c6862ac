// Package enrich annotates collected messages with data resolved from the
// store before they are rendered.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ssbc/ssb-viewer/ssb"
)

// DefaultConcurrency is the number of messages enriched at once when the
// Enricher does not set one.
const DefaultConcurrency = 8

// MaxBlogSize bounds how much of a blog blob is attached to a message.
const MaxBlogSize = 1 << 20

var (
	inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssb_viewer_enrich_inflight",
		Help: "Messages currently being enriched.",
	})
	duration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ssb_viewer_enrich_duration_seconds",
		Help:    "Time spent enriching one message.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
)

// IdentityResolver resolves the identity of a feed or message.
type IdentityResolver interface {
	Get(ctx context.Context, id string) (ssb.Identity, error)
}

// MessageResolver resolves a message by key.
type MessageResolver interface {
	Get(ctx context.Context, id string) (ssb.Message, error)
}

// A Stage derives annotations for one message. A stage that does not apply
// to the message returns it unchanged.
type Stage func(ctx context.Context, msg ssb.Message) (ssb.Message, error)

// Enricher runs the enrichment stages over a sequence of messages.
type Enricher struct {
	Identities IdentityResolver
	Messages   MessageResolver
	Store      ssb.Store
	Blobs      ssb.BlobStore
	Logger     *slog.Logger

	// Concurrency bounds the messages in flight; DefaultConcurrency when
	// zero.
	Concurrency int
	// Stages overrides the default stage list.
	Stages []Stage
}

// DefaultStages returns every stage in the order they are applied.
func (e *Enricher) DefaultStages() []Stage {
	return []Stage{
		e.AuthorIdentity,
		e.FollowTarget,
		e.VoteTarget,
		e.BlobAttachment,
		e.GitReference,
		e.GatheringAttendance,
	}
}

// Run enriches msgs and passes them to emit in input order. Stages that
// cannot resolve their dependency leave the message as is; any other error,
// including one returned by emit, cancels the remaining work and is
// returned.
func (e *Enricher) Run(ctx context.Context, msgs []ssb.Message, emit func(ssb.Message) error) error {
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	sem := semaphore.NewWeighted(int64(limit))
	g, ctx := errgroup.WithContext(ctx)

	// Each message gets a result channel queued in input order; the
	// consumer drains them in that order regardless of which worker
	// finishes first.
	pending := make(chan chan ssb.Message, limit)

	g.Go(func() error {
		defer close(pending)
		for _, msg := range msgs {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			done := make(chan ssb.Message, 1)
			select {
			case pending <- done:
			case <-ctx.Done():
				sem.Release(1)
				return ctx.Err()
			}
			g.Go(func() error {
				defer sem.Release(1)
				out, err := e.enrich(ctx, msg)
				if err != nil {
					return err
				}
				done <- out
				return nil
			})
		}
		return nil
	})

	g.Go(func() error {
		for done := range pending {
			select {
			case msg := <-done:
				if err := emit(msg); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (e *Enricher) enrich(ctx context.Context, msg ssb.Message) (ssb.Message, error) {
	inflight.Inc()
	defer inflight.Dec()
	start := time.Now()
	defer func() { duration.Observe(time.Since(start).Seconds()) }()

	stages := e.Stages
	if stages == nil {
		stages = e.DefaultStages()
	}
	for _, stage := range stages {
		out, err := stage(ctx, msg)
		switch {
		case err == nil:
			msg = out
		case degradable(err):
			e.logger().DebugContext(ctx, "Enrichment skipped", "key", msg.Key, "error", err)
		default:
			return msg, fmt.Errorf("enrich %s: %w", msg.Key, err)
		}
	}
	return msg, nil
}

func (e *Enricher) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func degradable(err error) bool {
	return errors.Is(err, ssb.ErrNotFound) || errors.Is(err, ssb.ErrInvalidID)
}

// AuthorIdentity attaches the identity of the message author.
func (e *Enricher) AuthorIdentity(ctx context.Context, msg ssb.Message) (ssb.Message, error) {
	if msg.Value.Author == "" {
		return msg, nil
	}
	ident, err := e.Identities.Get(ctx, msg.Value.Author)
	if err != nil {
		return msg, fmt.Errorf("author identity: %w", err)
	}
	msg.Annotations.Author = &ident
	return msg, nil
}

// FollowTarget attaches the identity of the feed a contact message names.
func (e *Enricher) FollowTarget(ctx context.Context, msg ssb.Message) (ssb.Message, error) {
	c, ok := msg.Value.Content.(*ssb.Contact)
	if !ok || c.Contact == "" {
		return msg, nil
	}
	ident, err := e.Identities.Get(ctx, string(c.Contact))
	if err != nil {
		return msg, fmt.Errorf("follow target: %w", err)
	}
	msg.Annotations.Contact = &ident
	return msg, nil
}

// VoteTarget attaches the text of the message a vote refers to. Votes on
// feeds are left alone.
func (e *Enricher) VoteTarget(ctx context.Context, msg ssb.Message) (ssb.Message, error) {
	v, ok := msg.Value.Content.(*ssb.Vote)
	if !ok || !ssb.IsMsg(string(v.Vote.Link)) {
		return msg, nil
	}
	target, err := e.Messages.Get(ctx, string(v.Vote.Link))
	if err != nil {
		return msg, fmt.Errorf("vote target: %w", err)
	}
	if text, ok := ssb.TextOf(target.Value.Content); ok {
		msg.Annotations.VoteText = &text
	}
	return msg, nil
}

// BlobAttachment attaches the body of a blog post, read from the blob store.
func (e *Enricher) BlobAttachment(ctx context.Context, msg ssb.Message) (ssb.Message, error) {
	b, ok := msg.Value.Content.(*ssb.Blog)
	if !ok || b.Blog == "" || e.Blobs == nil {
		return msg, nil
	}
	rc, err := e.Blobs.GetBlob(ctx, string(b.Blog))
	if err != nil {
		return msg, fmt.Errorf("blog body: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxBlogSize))
	if err != nil {
		return msg, fmt.Errorf("read blog body %s: %w", b.Blog, err)
	}
	body := string(data)
	msg.Annotations.BlogBody = &body
	return msg, nil
}

// GitReference attaches the name of the repository an issue or git update
// belongs to.
func (e *Enricher) GitReference(ctx context.Context, msg ssb.Message) (ssb.Message, error) {
	var repo ssb.Ref
	switch c := msg.Value.Content.(type) {
	case *ssb.Issue:
		repo = c.Project
	case *ssb.GitUpdate:
		repo = c.Repo
	default:
		return msg, nil
	}
	if repo == "" {
		return msg, nil
	}
	target, err := e.Messages.Get(ctx, string(repo))
	if err != nil {
		return msg, fmt.Errorf("git repo: %w", err)
	}
	if r, ok := target.Value.Content.(*ssb.GitRepo); ok {
		msg.Annotations.RepoName = r.Name
	}
	return msg, nil
}

// GatheringAttendance attaches the identity of a gathering and the number
// of feeds attending it. The last attendance claim about each feed counts.
func (e *Enricher) GatheringAttendance(ctx context.Context, msg ssb.Message) (ssb.Message, error) {
	if _, ok := msg.Value.Content.(*ssb.Gathering); !ok {
		return msg, nil
	}
	ident, err := e.Identities.Get(ctx, msg.Key)
	if err != nil {
		return msg, fmt.Errorf("gathering identity: %w", err)
	}
	msg.Annotations.Gathering = &ident

	attending := make(map[string]bool)
	q := ssb.LinkQuery{Dest: msg.Key, Rel: "about", Values: true}
	err = e.Store.Links(ctx, q, func(l ssb.Link) error {
		if l.Message == nil {
			return nil
		}
		a, ok := l.Message.Value.Content.(*ssb.About)
		if !ok || a.Attendee == nil || a.Attendee.Link == "" {
			return nil
		}
		attending[string(a.Attendee.Link)] = !a.Attendee.Remove
		return nil
	})
	if err != nil {
		return msg, fmt.Errorf("gathering attendance: %w", err)
	}
	n := 0
	for _, yes := range attending {
		if yes {
			n++
		}
	}
	msg.Annotations.Attendees = &n
	return msg, nil
}
