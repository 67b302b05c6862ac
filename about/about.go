// Package about derives the display identity of a feed or message from the
// about messages published for it.
package about

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ssbc/ssb-viewer/ssb"
)

// claims is what a single author said about the subject; later messages
// from the same author overwrite earlier fields.
type claims struct {
	name, image, description, title string
	start                           *ssb.DateTime
	hosting                         *bool
}

// tally counts votes for the values of one field. The first value to reach
// the highest count wins.
type tally struct {
	counts map[string]int
	top    string
	best   int
}

func (t *tally) vote(value string) {
	if value == "" {
		return
	}
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	t.counts[value]++
	if n := t.counts[value]; n > t.best {
		t.best = n
		t.top = value
	}
}

// Aggregate resolves the identity of id. Each author gets one vote per
// field; the subject's own claims are counted once more so a feed's choice
// of name wins ties. An error reading links fails the whole aggregation.
func Aggregate(ctx context.Context, store ssb.Store, id string) (ssb.Identity, error) {
	var order []string
	byAuthor := make(map[string]*claims)

	err := store.Links(ctx, ssb.LinkQuery{Dest: id, Rel: "about", Values: true}, func(l ssb.Link) error {
		if l.Message == nil {
			return nil
		}
		c, ok := l.Message.Value.Content.(*ssb.About)
		if !ok {
			return nil
		}
		author := l.Message.Value.Author
		cl := byAuthor[author]
		if cl == nil {
			cl = &claims{}
			byAuthor[author] = cl
			order = append(order, author)
		}
		cl.apply(author, c)
		return nil
	})
	if err != nil {
		return ssb.Identity{}, fmt.Errorf("aggregate about %s: %w", id, err)
	}

	voters := make([]*claims, 0, len(order)+1)
	for _, author := range order {
		voters = append(voters, byAuthor[author])
	}
	if self, ok := byAuthor[id]; ok {
		voters = append(voters, self)
	}

	var name, image, description, title, start, hosting tally
	starts := make(map[string]*ssb.DateTime)
	for _, cl := range voters {
		name.vote(cl.name)
		image.vote(cl.image)
		description.vote(cl.description)
		title.vote(cl.title)
		if cl.start != nil {
			key := dateKey(cl.start)
			starts[key] = cl.start
			start.vote(key)
		}
		if cl.hosting != nil {
			hosting.vote(fmt.Sprint(*cl.hosting))
		}
	}

	ident := ssb.Identity{
		Name:          name.top,
		Image:         image.top,
		Description:   description.top,
		Title:         title.top,
		StartDateTime: starts[start.top],
	}
	if hosting.top != "" {
		v := hosting.top == "true"
		ident.PublicWebHosting = &v
	}
	if ident.Name == "" {
		ident.Name = FallbackName(id)
	}
	return ident, nil
}

// FallbackName is the name shown for ids nobody has named.
func FallbackName(id string) string {
	r := []rune(id)
	if len(r) > 10 {
		r = r[:10]
	}
	return string(r) + "…"
}

func (cl *claims) apply(author string, c *ssb.About) {
	if c.Name != "" {
		cl.name = "@" + strings.TrimPrefix(c.Name, "@")
	}
	if c.Image != "" {
		cl.image = string(c.Image)
	}
	if c.Description != "" {
		cl.description = c.Description
	}
	if c.Title != "" {
		cl.title = c.Title
	}
	if c.StartDateTime != nil {
		cl.start = c.StartDateTime
	}
	// Only the subject may declare whether it wants public web hosting.
	if len(c.PublicWebHosting) > 0 && author == string(c.About) {
		if v, ok := parseBool(c.PublicWebHosting); ok {
			cl.hosting = &v
		}
	}
}

func parseBool(raw json.RawMessage) (bool, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	switch v := v.(type) {
	case bool:
		return v, true
	case string:
		switch v {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func dateKey(d *ssb.DateTime) string {
	return fmt.Sprintf("%v/%s", d.Epoch, d.TZ)
}
