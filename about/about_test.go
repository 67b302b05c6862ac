package about

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ssbc/ssb-viewer/memstore"
	"github.com/ssbc/ssb-viewer/ssb"
)

type claim struct {
	author string
	fields map[string]any
}

func TestAggregate(t *testing.T) {
	alice := memstore.FeedID("alice")
	bob := memstore.FeedID("bob")
	carol := memstore.FeedID("carol")
	falseVal := false
	trueVal := true

	tests := []struct {
		name    string
		subject string
		claims  []claim
		want    ssb.Identity
	}{
		{
			name:    "NoClaims",
			subject: alice,
			want:    ssb.Identity{Name: alice[:10] + "…"},
		},
		{
			name:    "MostPopular",
			subject: alice,
			claims: []claim{
				{alice, map[string]any{"name": "alice"}},
				{bob, map[string]any{"name": "ally"}},
				{carol, map[string]any{"name": "@ally"}},
			},
			want: ssb.Identity{Name: "@ally"},
		},
		{
			name:    "TieFirstEncounteredWins",
			subject: alice,
			claims: []claim{
				{bob, map[string]any{"name": "x"}},
				{carol, map[string]any{"name": "y"}},
			},
			want: ssb.Identity{Name: "@x"},
		},
		{
			name:    "RepeatedClaimsCountOnce",
			subject: alice,
			claims: []claim{
				{bob, map[string]any{"name": "x"}},
				{bob, map[string]any{"name": "x"}},
				{carol, map[string]any{"name": "y"}},
			},
			want: ssb.Identity{Name: "@x"},
		},
		{
			name:    "SelfBreaksTie",
			subject: alice,
			claims: []claim{
				{bob, map[string]any{"name": "x"}},
				{alice, map[string]any{"name": "y"}},
			},
			want: ssb.Identity{Name: "@y"},
		},
		{
			name:    "LatestClaimPerAuthor",
			subject: alice,
			claims: []claim{
				{bob, map[string]any{"name": "old", "description": "hello"}},
				{bob, map[string]any{"name": "new"}},
			},
			want: ssb.Identity{Name: "@new", Description: "hello"},
		},
		{
			name:    "ImageLink",
			subject: alice,
			claims: []claim{
				{alice, map[string]any{"image": map[string]any{"link": "&img", "size": 3}}},
			},
			want: ssb.Identity{Name: alice[:10] + "…", Image: "&img"},
		},
		{
			name:    "HostingFromOthersIgnored",
			subject: alice,
			claims: []claim{
				{bob, map[string]any{"publicWebHosting": true}},
			},
			want: ssb.Identity{Name: alice[:10] + "…"},
		},
		{
			name:    "HostingSelfFalseString",
			subject: alice,
			claims: []claim{
				{alice, map[string]any{"publicWebHosting": "false"}},
			},
			want: ssb.Identity{Name: alice[:10] + "…", PublicWebHosting: &falseVal},
		},
		{
			name:    "HostingSelfTrue",
			subject: alice,
			claims: []claim{
				{alice, map[string]any{"name": "alice", "publicWebHosting": true}},
				{bob, map[string]any{"publicWebHosting": false}},
			},
			want: ssb.Identity{Name: "@alice", PublicWebHosting: &trueVal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			for _, c := range tt.claims {
				content := map[string]any{"type": "about", "about": tt.subject}
				for k, v := range c.fields {
					content[k] = v
				}
				store.Publish(c.author, content)
			}
			// Unrelated about messages must not leak in.
			store.Publish(bob, map[string]any{"type": "about", "about": carol, "name": "other"})

			got, err := Aggregate(context.Background(), store, tt.subject)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Aggregate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAggregate_gathering(t *testing.T) {
	store := memstore.New()
	alice := memstore.FeedID("alice")
	gathering := store.Publish(alice, map[string]any{"type": "gathering"})
	store.Publish(alice, map[string]any{
		"type":          "about",
		"about":         gathering.Key,
		"title":         "Picnic",
		"startDateTime": map[string]any{"epoch": 1700000000000, "tz": "Europe/Oslo"},
	})

	got, err := Aggregate(context.Background(), store, gathering.Key)
	if err != nil {
		t.Fatal(err)
	}
	want := ssb.Identity{
		Name:          FallbackName(gathering.Key),
		Title:         "Picnic",
		StartDateTime: &ssb.DateTime{Epoch: 1700000000000, TZ: "Europe/Oslo"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Aggregate() mismatch (-want +got):\n%s", diff)
	}
}

type failingStore struct {
	ssb.Store
	err error
}

func (s failingStore) Links(context.Context, ssb.LinkQuery, func(ssb.Link) error) error {
	return s.err
}

func TestAggregate_linkError(t *testing.T) {
	fail := errors.New("connection reset")
	_, err := Aggregate(context.Background(), failingStore{Store: memstore.New(), err: fail}, memstore.FeedID("alice"))
	if !errors.Is(err, fail) {
		t.Errorf("Got error %v, want %v", err, fail)
	}
}

func TestFallbackName(t *testing.T) {
	if got := FallbackName("@abcdefghijklmnop"); got != "@abcdefghi…" {
		t.Errorf("Got %q", got)
	}
	if got := FallbackName("@short"); got != "@short…" {
		t.Errorf("Got %q", got)
	}
}
