package ssb

import (
	"encoding/json"
	"time"
)

// A Message is one entry of a feed as handed out by the log database.
type Message struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
	// Timestamp is the local receive time in milliseconds since the epoch.
	Timestamp float64 `json:"timestamp,omitempty"`

	// Annotations hold view-time data derived by the enrichment stages.
	Annotations Annotations `json:"annotations"`
}

// Value is the signed, store-owned part of a message.
type Value struct {
	Previous  string  `json:"previous,omitempty"`
	Author    string  `json:"author"`
	Sequence  int64   `json:"sequence"`
	Timestamp float64 `json:"timestamp"`
	Hash      string  `json:"hash,omitempty"`
	Signature string  `json:"signature,omitempty"`

	// Content is decoded from RawContent. RawContent is what gets
	// marshalled back out so dumps show exactly what was published.
	Content    Content         `json:"-"`
	RawContent json.RawMessage `json:"content"`
}

// UnmarshalJSON decodes the value and its typed content.
func (v *Value) UnmarshalJSON(b []byte) error {
	type value Value
	var raw value
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = Value(raw)
	v.Content = DecodeContent(v.RawContent)
	return nil
}

// Time returns the author-claimed publication time.
func (v Value) Time() time.Time {
	return time.UnixMilli(int64(v.Timestamp)).UTC()
}

// IsPrivate reports whether the content is an encrypted string.
func (m Message) IsPrivate() bool {
	_, ok := m.Value.Content.(Private)
	return ok
}

// Annotations are additive fields attached to a message while it is
// prepared for rendering. A nil pointer means the field could not be
// resolved.
type Annotations struct {
	Author    *Identity `json:"author,omitempty"`
	Contact   *Identity `json:"contactAbout,omitempty"`
	VoteText  *string   `json:"linkedText,omitempty"`
	BlogBody  *string   `json:"blogBody,omitempty"`
	RepoName  string    `json:"repoName,omitempty"`
	Gathering *Identity `json:"gathering,omitempty"`
	Attendees *int      `json:"attendees,omitempty"`
}

// Identity is the best-effort description of a feed or message, voted on by
// every feed that published an about message for it.
type Identity struct {
	Name             string    `json:"name"`
	Image            string    `json:"image,omitempty"`
	Description      string    `json:"description,omitempty"`
	Title            string    `json:"title,omitempty"`
	StartDateTime    *DateTime `json:"startDateTime,omitempty"`
	PublicWebHosting *bool     `json:"publicWebHosting,omitempty"`
}

// DateTime is the start time attached to gatherings.
type DateTime struct {
	Epoch float64 `json:"epoch"`
	TZ    string  `json:"tz,omitempty"`
}

// Time converts the epoch milliseconds into a time.Time.
func (d DateTime) Time() time.Time {
	return time.UnixMilli(int64(d.Epoch)).UTC()
}
