// Package collect gathers the set of messages a request renders.
package collect

import (
	"context"
	"fmt"

	"github.com/ssbc/ssb-viewer/ssb"
)

// Limits applied to feed-shaped targets.
const (
	DefaultLimit      = 10
	SyndicationLimit  = 25
	SubscriptionLimit = 150
)

// A Target selects one collection strategy.
type Target interface {
	target()
}

// Thread collects a root message and every reply to it.
type Thread struct {
	ID          string
	IncludeRoot bool
}

// UserFeed collects the latest messages of one feed. A zero Limit means
// the whole feed.
type UserFeed struct {
	ID    string
	Limit int
}

// Channel collects the latest messages tagged with a channel.
type Channel struct {
	Name  string
	Limit int
}

// Subscriptions collects the latest messages from the feeds ID follows and
// the channels it subscribes to.
type Subscriptions struct {
	ID string
}

func (Thread) target()        {}
func (UserFeed) target()      {}
func (Channel) target()       {}
func (Subscriptions) target() {}

// A Collector runs collection strategies against a store.
type Collector struct {
	Store ssb.Store
	// Get resolves single messages, typically through a cache. Store.Get is
	// used when nil.
	Get func(ctx context.Context, id string) (ssb.Message, error)
	// ScanLimit bounds how many log entries channel and subscription
	// collection examine. Zero means unbounded.
	ScanLimit int
}

// Collect returns the messages selected by t. Any store failure aborts the
// collection.
func (c *Collector) Collect(ctx context.Context, t Target) ([]ssb.Message, error) {
	switch t := t.(type) {
	case Thread:
		msgs, err := c.thread(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("collect thread %s: %w", t.ID, err)
		}
		return msgs, nil
	case UserFeed:
		msgs, err := c.userFeed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("collect feed %s: %w", t.ID, err)
		}
		return msgs, nil
	case Channel:
		msgs, err := c.channel(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("collect channel %s: %w", t.Name, err)
		}
		return msgs, nil
	case Subscriptions:
		msgs, err := c.subscriptions(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("collect subscriptions of %s: %w", t.ID, err)
		}
		return msgs, nil
	default:
		return nil, fmt.Errorf("collect: unsupported target %T", t)
	}
}

func (c *Collector) get(ctx context.Context, id string) (ssb.Message, error) {
	if c.Get != nil {
		return c.Get(ctx, id)
	}
	return c.Store.Get(ctx, id)
}

func (c *Collector) thread(ctx context.Context, t Thread) ([]ssb.Message, error) {
	root, err := c.get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if root.IsPrivate() {
		return []ssb.Message{root}, nil
	}

	var msgs []ssb.Message
	if t.IncludeRoot {
		msgs = append(msgs, root)
	}
	seen := map[string]bool{root.Key: true}
	q := ssb.LinkQuery{Dest: t.ID, Rel: "root", Values: true}
	err = c.Store.Links(ctx, q, func(l ssb.Link) error {
		if seen[l.Source] {
			return nil
		}
		seen[l.Source] = true
		if l.Message != nil {
			msgs = append(msgs, *l.Message)
			return nil
		}
		msg, err := c.get(ctx, l.Source)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Collector) userFeed(ctx context.Context, t UserFeed) ([]ssb.Message, error) {
	var msgs []ssb.Message
	err := c.Store.UserStream(ctx, t.ID, ssb.StreamQuery{Reverse: true}, func(m ssb.Message) error {
		if !structured(m) {
			return nil
		}
		msgs = append(msgs, m)
		return limitReached(len(msgs), t.Limit)
	})
	if !ssb.Stopped(err) {
		return nil, err
	}
	return msgs, nil
}

func (c *Collector) channel(ctx context.Context, t Channel) ([]ssb.Message, error) {
	name := ssb.NormalizeChannel(t.Name)
	var msgs []ssb.Message
	q := ssb.StreamQuery{Reverse: true, Limit: c.ScanLimit}
	err := c.Store.LogStream(ctx, q, func(m ssb.Message) error {
		if !structured(m) || ssb.ChannelOf(m.Value.Content) != name {
			return nil
		}
		msgs = append(msgs, m)
		return limitReached(len(msgs), t.Limit)
	})
	if !ssb.Stopped(err) {
		return nil, err
	}
	return msgs, nil
}

func (c *Collector) subscriptions(ctx context.Context, t Subscriptions) ([]ssb.Message, error) {
	following := make(map[string]bool)
	channels := make(map[string]bool)
	err := c.Store.UserStream(ctx, t.ID, ssb.StreamQuery{}, func(m ssb.Message) error {
		switch content := m.Value.Content.(type) {
		case *ssb.Contact:
			if content.Following {
				following[string(content.Contact)] = true
			} else {
				delete(following, string(content.Contact))
			}
		case *ssb.ChannelSub:
			name := ssb.NormalizeChannel(content.Channel)
			if content.Subscribed {
				channels[name] = true
			} else {
				delete(channels, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", t.ID, err)
	}

	var msgs []ssb.Message
	q := ssb.StreamQuery{Reverse: true, Limit: c.ScanLimit}
	err = c.Store.LogStream(ctx, q, func(m ssb.Message) error {
		if !structured(m) {
			return nil
		}
		if !following[m.Value.Author] && !inChannel(m, channels) {
			return nil
		}
		msgs = append(msgs, m)
		return limitReached(len(msgs), SubscriptionLimit)
	})
	if !ssb.Stopped(err) {
		return nil, err
	}
	return msgs, nil
}

// inChannel reports whether m is tagged with one of channels. Subscription
// changes name a channel without being posted to it.
func inChannel(m ssb.Message, channels map[string]bool) bool {
	if _, ok := m.Value.Content.(*ssb.ChannelSub); ok {
		return false
	}
	channel := ssb.ChannelOf(m.Value.Content)
	return channel != "" && channels[channel]
}

func limitReached(n, limit int) error {
	if limit > 0 && n >= limit {
		return ssb.ErrStop
	}
	return nil
}

// structured reports whether m carries readable content.
func structured(m ssb.Message) bool {
	switch c := m.Value.Content.(type) {
	case nil, ssb.Private:
		return false
	case *ssb.Unknown:
		return len(c.Raw) > 0
	}
	return true
}
