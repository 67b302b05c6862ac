package ssb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ReadLog decodes a stream of JSON messages, as written by a log export,
// and calls fn for each. Messages whose key is not a message id are
// rejected.
func ReadLog(r io.Reader, fn func(Message) error) error {
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var msg Message
		err := dec.Decode(&msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode message %d: %w", n, err)
		}
		if !IsMsg(msg.Key) {
			return fmt.Errorf("message %d key %q: %w", n, msg.Key, ErrInvalidID)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
