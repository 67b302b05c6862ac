package ssb

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when an id does not resolve to anything.
	ErrNotFound = errors.New("not found")
	// ErrInvalidID is returned for malformed references.
	ErrInvalidID = errors.New("invalid id")
	// ErrStop may be returned by a stream callback to end iteration early.
	// Stores hand it back to the caller unchanged.
	ErrStop = errors.New("stop iteration")
)

// A Link is an edge from a message to the id it references.
type Link struct {
	Source string
	Rel    string
	Dest   string
	// Message is the source message, set when the query asked for values.
	Message *Message
}

// LinkQuery selects links pointing at Dest. An empty Rel matches any
// relation.
type LinkQuery struct {
	Dest   string
	Rel    string
	Values bool
}

// StreamQuery bounds a sequence read. A zero Limit means unbounded.
type StreamQuery struct {
	Reverse bool
	Limit   int
}

// A Store provides read access to the message log. Links are yielded in
// ascending receive order of their source messages so that callers relying
// on enumeration order get the same answer on every call.
type Store interface {
	Get(ctx context.Context, id string) (Message, error)
	Links(ctx context.Context, q LinkQuery, fn func(Link) error) error
	UserStream(ctx context.Context, feed string, q StreamQuery, fn func(Message) error) error
	LogStream(ctx context.Context, q StreamQuery, fn func(Message) error) error
}

// A BlobStore provides access to content-addressed blobs.
type BlobStore interface {
	HasBlob(ctx context.Context, id string) (bool, error)
	GetBlob(ctx context.Context, id string) (io.ReadCloser, error)
}

// Stopped reports whether err is nil or the early-stop sentinel.
func Stopped(err error) bool {
	return err == nil || errors.Is(err, ErrStop)
}
