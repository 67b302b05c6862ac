package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ssbc/ssb-viewer/memstore"
	"github.com/ssbc/ssb-viewer/ssb"
)

func TestMessage_roundTrip(t *testing.T) {
	store := memstore.New()
	alice := memstore.FeedID("alice")
	want := store.Publish(alice, map[string]any{"type": "post", "text": "hi", "channel": "#go"})

	m := fromMessage(want)
	if m.Channel != "go" {
		t.Errorf("Got channel %q, want go", m.Channel)
	}
	got := m.SSBMessage()
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(ssb.Value{}, "Content")); diff != "" {
		t.Errorf("Message mismatch (-want +got):\n%s", diff)
	}
	if post, ok := got.Value.Content.(*ssb.Post); !ok || post.Text != "hi" {
		t.Errorf("Got content %#v, want post", got.Value.Content)
	}
}

// connect returns a store on the database named by SSB_VIEWER_TEST_DSN,
// skipping the test when it is unset.
func connect(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("SSB_VIEWER_TEST_DSN")
	if dsn == "" {
		t.Skip("SSB_VIEWER_TEST_DSN not set")
	}
	ctx := context.Background()
	pg, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pg.Close() })
	if _, err := pg.bun.NewDropTable().Model((*link)(nil)).IfExists().Exec(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := pg.bun.NewDropTable().Model((*message)(nil)).IfExists().Exec(ctx); err != nil {
		t.Fatal(err)
	}
	if err := pg.CreateSchema(ctx); err != nil {
		t.Fatal(err)
	}
	return pg
}

func TestPostgres(t *testing.T) {
	pg := connect(t)
	ctx := context.Background()

	src := memstore.New()
	alice := memstore.FeedID("alice")
	root := src.Publish(alice, map[string]any{"type": "post", "text": "root"})
	reply := src.Publish(alice, map[string]any{"type": "post", "text": "reply", "root": root.Key})
	for _, m := range []ssb.Message{root, reply, reply} {
		if err := pg.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("Get", func(t *testing.T) {
		got, err := pg.Get(ctx, root.Key)
		if err != nil {
			t.Fatal(err)
		}
		if !json.Valid(got.Value.RawContent) || string(got.Value.RawContent) != string(root.Value.RawContent) {
			t.Errorf("Got content %s, want %s", got.Value.RawContent, root.Value.RawContent)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := pg.Get(ctx, ssb.MsgID([]byte("missing")))
		if !errors.Is(err, ssb.ErrNotFound) {
			t.Errorf("Got error %v, want ErrNotFound", err)
		}
	})

	t.Run("Links", func(t *testing.T) {
		var got []string
		err := pg.Links(ctx, ssb.LinkQuery{Dest: root.Key, Rel: "root", Values: true}, func(l ssb.Link) error {
			if l.Message == nil {
				t.Error("Link without message")
			}
			got = append(got, l.Source)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{reply.Key}, got); diff != "" {
			t.Errorf("Links mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("UserStream", func(t *testing.T) {
		var got []string
		err := pg.UserStream(ctx, alice, ssb.StreamQuery{Reverse: true, Limit: 1}, func(m ssb.Message) error {
			got = append(got, m.Key)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{reply.Key}, got); diff != "" {
			t.Errorf("Stream mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("LogStreamStop", func(t *testing.T) {
		n := 0
		err := pg.LogStream(ctx, ssb.StreamQuery{}, func(m ssb.Message) error {
			n++
			return ssb.ErrStop
		})
		if !errors.Is(err, ssb.ErrStop) || n != 1 {
			t.Errorf("Got %d messages and error %v", n, err)
		}
	})
}
