package ssb

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Content is the typed payload of a message. The set of implementations is
// closed: anything that is not recognised decodes to *Unknown.
type Content interface {
	Type() string
	isContent()
}

// Ref is a reference that may be published either as a bare string or as
// an object with a "link" field.
type Ref string

// UnmarshalJSON accepts "id", {"link": "id"} and ignores anything else.
func (r *Ref) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = Ref(s)
		return nil
	}
	var obj struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		*r = Ref(obj.Link)
		return nil
	}
	*r = ""
	return nil
}

// Refs is a list of references that may be published as a single string.
type Refs []string

// UnmarshalJSON accepts a string, a list of strings or objects with links.
func (r *Refs) UnmarshalJSON(b []byte) error {
	var one Ref
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("[")) {
		var many []Ref
		if err := json.Unmarshal(b, &many); err != nil {
			*r = nil
			return nil
		}
		out := make(Refs, 0, len(many))
		for _, ref := range many {
			if ref != "" {
				out = append(out, string(ref))
			}
		}
		*r = out
		return nil
	}
	_ = one.UnmarshalJSON(b)
	if one != "" {
		*r = Refs{string(one)}
	} else {
		*r = nil
	}
	return nil
}

// A Mention names a reference used inside post text.
type Mention struct {
	Link string `json:"link"`
	Name string `json:"name,omitempty"`
}

// Mentions tolerates any shape and keeps only well formed entries.
type Mentions []Mention

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mentions) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = nil
		return nil
	}
	out := make(Mentions, 0, len(raw))
	for _, item := range raw {
		var mention struct {
			Link Ref `json:"link"`
			Name any `json:"name"`
		}
		if err := json.Unmarshal(item, &mention); err != nil || mention.Link == "" {
			continue
		}
		name, _ := mention.Name.(string)
		out = append(out, Mention{Link: string(mention.Link), Name: name})
	}
	*m = out
	return nil
}

// Post is a text message, possibly part of a thread.
type Post struct {
	Text     string   `json:"text"`
	Channel  string   `json:"channel,omitempty"`
	Root     Ref      `json:"root,omitempty"`
	Branch   Refs     `json:"branch,omitempty"`
	Mentions Mentions `json:"mentions,omitempty"`
}

// Vote expresses an opinion about a message or feed.
type Vote struct {
	Channel string   `json:"channel,omitempty"`
	Vote    VoteBody `json:"vote"`
}

// VoteBody is the inner object of a vote.
type VoteBody struct {
	Link       Ref     `json:"link"`
	Value      float64 `json:"value"`
	Expression string  `json:"expression,omitempty"`
}

// Contact follows, unfollows or blocks a feed.
type Contact struct {
	Contact   Ref  `json:"contact"`
	Following bool `json:"following"`
	Blocking  bool `json:"blocking,omitempty"`
}

// ChannelSub subscribes to or unsubscribes from a channel.
type ChannelSub struct {
	Channel    string `json:"channel"`
	Subscribed bool   `json:"subscribed"`
}

// Blog is a long-form post whose body lives in a blob.
type Blog struct {
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	Blog      Ref    `json:"blog"`
	Thumbnail Ref    `json:"thumbnail,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// Issue is a git issue filed against a repository message.
type Issue struct {
	Project Ref    `json:"project"`
	Title   string `json:"title,omitempty"`
	Text    string `json:"text"`
}

// GitRepo announces a git repository.
type GitRepo struct {
	Name string `json:"name,omitempty"`
}

// GitUpdate pushes commits to a repository.
type GitUpdate struct {
	Repo    Ref      `json:"repo"`
	Commits []Commit `json:"commits,omitempty"`
}

// Commit is one entry of a git update.
type Commit struct {
	Sha1  string `json:"sha1"`
	Title string `json:"title"`
}

// About publishes descriptive fields about a feed or message.
type About struct {
	About            Ref             `json:"about"`
	Name             string          `json:"name,omitempty"`
	Image            Ref             `json:"image,omitempty"`
	Description      string          `json:"description,omitempty"`
	Title            string          `json:"title,omitempty"`
	StartDateTime    *DateTime       `json:"startDateTime,omitempty"`
	PublicWebHosting json.RawMessage `json:"publicWebHosting,omitempty"`
	Attendee         *Attendee       `json:"attendee,omitempty"`
}

// Attendee marks a feed as attending (or, with Remove, no longer attending)
// a gathering.
type Attendee struct {
	Link   Ref  `json:"link"`
	Remove bool `json:"remove,omitempty"`
}

// Pub announces a pub server address.
type Pub struct {
	Address PubAddress `json:"address"`
}

// PubAddress is published either as an object or as a multiserver string.
type PubAddress struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	Key  string `json:"key,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *PubAddress) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimPrefix(s, "net:")
		host, _, _ := strings.Cut(s, ":")
		*a = PubAddress{Host: host}
		return nil
	}
	type address PubAddress
	var obj address
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*a = PubAddress(obj)
	return nil
}

// Gathering is an event; its details are published as about messages.
type Gathering struct{}

// DNS is a record published by ssb-dns.
type DNS struct {
	Record json.RawMessage `json:"record,omitempty"`
}

// Private is encrypted content the viewer cannot read.
type Private string

// Unknown is content of an unrecognised or malformed type.
type Unknown struct {
	Kind string
	Raw  json.RawMessage
}

func (*Post) Type() string { return "post" }
func (*Vote) Type() string { return "vote" }
func (*Contact) Type() string { return "contact" }
func (*ChannelSub) Type() string { return "channel" }
func (*Blog) Type() string { return "blog" }
func (*Issue) Type() string { return "issue" }
func (*GitRepo) Type() string { return "git-repo" }
func (*GitUpdate) Type() string { return "git-update" }
func (*About) Type() string { return "about" }
func (*Pub) Type() string { return "pub" }
func (*Gathering) Type() string { return "gathering" }
func (*DNS) Type() string { return "ssb-dns" }
func (Private) Type() string { return "" }
func (u *Unknown) Type() string { return u.Kind }

func (*Post) isContent() {}
func (*Vote) isContent() {}
func (*Contact) isContent() {}
func (*ChannelSub) isContent() {}
func (*Blog) isContent() {}
func (*Issue) isContent() {}
func (*GitRepo) isContent() {}
func (*GitUpdate) isContent() {}
func (*About) isContent() {}
func (*Pub) isContent() {}
func (*Gathering) isContent() {}
func (*DNS) isContent() {}
func (Private) isContent() {}
func (*Unknown) isContent() {}

// DecodeContent decodes raw content into its typed form. It never fails:
// content that cannot be decoded as its declared type becomes *Unknown.
func DecodeContent(raw json.RawMessage) Content {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &Unknown{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return &Unknown{Raw: raw}
		}
		return Private(s)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return &Unknown{Raw: raw}
	}

	var c Content
	switch head.Type {
	case "post":
		c = &Post{}
	case "vote":
		c = &Vote{}
	case "contact":
		c = &Contact{}
	case "channel":
		c = &ChannelSub{}
	case "blog":
		c = &Blog{}
	case "issue":
		c = &Issue{}
	case "git-repo":
		c = &GitRepo{}
	case "git-update":
		c = &GitUpdate{}
	case "about":
		c = &About{}
	case "pub":
		c = &Pub{}
	case "gathering":
		c = &Gathering{}
	case "ssb-dns":
		c = &DNS{}
	default:
		return &Unknown{Kind: head.Type, Raw: raw}
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return &Unknown{Kind: head.Type, Raw: raw}
	}
	return c
}

// ChannelOf returns the channel tag carried by c, if any.
func ChannelOf(c Content) string {
	switch c := c.(type) {
	case *Post:
		return NormalizeChannel(c.Channel)
	case *Vote:
		return NormalizeChannel(c.Channel)
	case *Blog:
		return NormalizeChannel(c.Channel)
	case *ChannelSub:
		return NormalizeChannel(c.Channel)
	}
	return ""
}

// TextOf returns the human readable text of c used when another message
// quotes it.
func TextOf(c Content) (string, bool) {
	switch c := c.(type) {
	case *Post:
		return c.Text, true
	case *Issue:
		if c.Title != "" {
			return c.Title, true
		}
		return c.Text, true
	case *Blog:
		return c.Title, true
	case *GitRepo:
		return c.Name, c.Name != ""
	}
	return "", false
}
