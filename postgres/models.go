package postgres

import (
	"encoding/json"

	"github.com/uptrace/bun"

	"github.com/ssbc/ssb-viewer/ssb"
)

// A message represents a log entry in the database. Rx is the receive
// order. Content is stored as json, not jsonb, so that it reads back byte
// for byte.
type message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	Key       string          `bun:",pk"`
	Rx        int64           `bun:",autoincrement,unique"`
	Author    string          `bun:",notnull"`
	Sequence  int64           `bun:",notnull"`
	Previous  string          `bun:",nullzero"`
	Timestamp float64         `bun:",notnull"`
	Received  float64         `bun:",notnull"`
	Hash      string          `bun:",nullzero"`
	Signature string          `bun:",nullzero"`
	Content   json.RawMessage `bun:"type:json,notnull"`
	Channel   string          `bun:",nullzero"`
}

type link struct {
	bun.BaseModel `bun:"table:links,alias:l"`

	Source string `bun:",pk"`
	Rel    string `bun:",pk"`
	Dest   string `bun:",pk"`
}

// A linkRow is a link joined with its source message.
type linkRow struct {
	LinkSource string `bun:"link_source"`
	LinkRel    string `bun:"link_rel"`
	LinkDest   string `bun:"link_dest"`
	message
}

func fromMessage(msg ssb.Message) *message {
	content := msg.Value.Content
	if content == nil {
		content = ssb.DecodeContent(msg.Value.RawContent)
	}
	return &message{
		Key:       msg.Key,
		Author:    msg.Value.Author,
		Sequence:  msg.Value.Sequence,
		Previous:  msg.Value.Previous,
		Timestamp: msg.Value.Timestamp,
		Received:  msg.Timestamp,
		Hash:      msg.Value.Hash,
		Signature: msg.Value.Signature,
		Content:   msg.Value.RawContent,
		Channel:   ssb.NormalizeChannel(ssb.ChannelOf(content)),
	}
}

func (m message) SSBMessage() ssb.Message {
	return ssb.Message{
		Key: m.Key,
		Value: ssb.Value{
			Previous:   m.Previous,
			Author:     m.Author,
			Sequence:   m.Sequence,
			Timestamp:  m.Timestamp,
			Hash:       m.Hash,
			Signature:  m.Signature,
			Content:    ssb.DecodeContent(m.Content),
			RawContent: m.Content,
		},
		Timestamp: m.Received,
	}
}
