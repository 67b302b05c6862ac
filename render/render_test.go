package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ssbc/ssb-viewer/ssb"
)

const (
	postKey = "%AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=.sha256"
	voteKey = "%BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB=.sha256"
	alice   = "@CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC=.ed25519"
	bob     = "@DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD=.ed25519"
)

var published = time.UnixMilli(1500000000000).UTC()

func testOptions() Options {
	return Options{
		Now: func() time.Time { return published.Add(3 * time.Hour) },
	}.WithDefaults()
}

func message(key string, content any) ssb.Message {
	raw, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	return ssb.Message{
		Key: key,
		Value: ssb.Value{
			Author:     alice,
			Sequence:   1,
			Timestamp:  float64(published.UnixMilli()),
			RawContent: raw,
			Content:    ssb.DecodeContent(raw),
		},
		Annotations: ssb.Annotations{Author: &ssb.Identity{Name: "@alice", Image: "&EEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE=.sha256"}},
	}
}

func str(s string) *string { return &s }

func TestBody(t *testing.T) {
	liked := message(voteKey, map[string]any{"type": "vote", "channel": "go", "vote": map[string]any{"link": postKey, "value": 1, "expression": "Dig"}})
	liked.Annotations.VoteText = str("hello world")

	voted := message(voteKey, map[string]any{"type": "vote", "vote": map[string]any{"link": postKey, "value": 1}})

	long := message(voteKey, map[string]any{"type": "vote", "vote": map[string]any{"link": postKey, "value": 1}})
	long.Annotations.VoteText = str(strings.Repeat("é", 80))

	followed := message(postKey, map[string]any{"type": "contact", "contact": bob, "following": true})
	followed.Annotations.Contact = &ssb.Identity{Name: "@bob"}

	issue := message(postKey, map[string]any{"type": "issue", "project": voteKey, "text": "it **broke**"})
	issue.Annotations.RepoName = "viewer"

	update := message(postKey, map[string]any{"type": "git-update", "repo": voteKey, "commits": []any{
		map[string]any{"sha1": "a", "title": "first"},
		map[string]any{"sha1": "b", "title": "second"},
	}})
	update.Annotations.RepoName = "viewer"

	gathering := message(postKey, map[string]any{"type": "gathering"})
	three := 3
	gathering.Annotations.Gathering = &ssb.Identity{Title: "Picnic"}
	gathering.Annotations.Attendees = &three

	blog := message(postKey, map[string]any{"type": "blog", "title": "Essay", "summary": "short"})
	blog.Annotations.BlogBody = str("the *whole* thing")

	tests := []struct {
		name string
		msg  ssb.Message
		want []string
	}{
		{
			name: "Post",
			msg:  message(postKey, map[string]any{"type": "post", "text": "hi #general", "channel": "#dev"}),
			want: []string{
				`<div class="top-right"><a href="/channel/dev">#dev</a></div>`,
				`<section><p>hi <a href="/channel/general">#general</a></p>`,
			},
		},
		{
			name: "PostMention",
			msg: message(postKey, map[string]any{"type": "post", "text": "ping @bobby", "mentions": []any{
				map[string]any{"link": bob, "name": "bobby"},
			}}),
			want: []string{`<a href="#%40DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD%3D.ed25519">@bobby</a>`},
		},
		{
			name: "Dig",
			msg:  liked,
			want: []string{`<span class="status">Liked <a href="/%25AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA%3D.sha256">hello world</a> in <a href="/channel/go">#go</a></span>`},
		},
		{
			name: "VoteMissingTarget",
			msg:  voted,
			want: []string{`Voted <a href="/%25AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA%3D.sha256">this</a>`},
		},
		{
			name: "VoteTextTruncated",
			msg:  long,
			want: []string{">" + strings.Repeat("é", 75) + "</a>"},
		},
		{
			name: "Followed",
			msg:  followed,
			want: []string{`Followed <a href="/%40DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD%3D.ed25519">@bob</a>`},
		},
		{
			name: "UnfollowedWithoutIdentity",
			msg:  message(postKey, map[string]any{"type": "contact", "contact": bob, "following": false}),
			want: []string{"Unfollowed <a", ">" + bob + "</a>"},
		},
		{
			name: "Blocked",
			msg:  message(postKey, map[string]any{"type": "contact", "contact": bob, "blocking": true}),
			want: []string{"Blocked <a"},
		},
		{
			name: "Subscribed",
			msg:  message(postKey, map[string]any{"type": "channel", "channel": "go", "subscribed": true}),
			want: []string{`Subscribed to channel <a href="/channel/go">#go</a>`},
		},
		{
			name: "Unsubscribed",
			msg:  message(postKey, map[string]any{"type": "channel", "channel": "go", "subscribed": false}),
			want: []string{`Unsubscribed from channel <a href="/channel/go">#go</a>`},
		},
		{
			name: "Private",
			msg:  message(postKey, "c2VjcmV0.box"),
			want: []string{`<span class="status">Wrote something private</span>`},
		},
		{
			name: "About",
			msg:  message(postKey, map[string]any{"type": "about", "about": alice, "name": "alice"}),
			want: []string{`<span class="status">Changed something in about</span><pre>`, "alice"},
		},
		{
			name: "DNS",
			msg:  message(postKey, map[string]any{"type": "ssb-dns", "record": "x"}),
			want: []string{"Updated DNS", "<pre>"},
		},
		{
			name: "Issue",
			msg:  issue,
			want: []string{"Created a git issue in repo viewer", "<strong>broke</strong>"},
		},
		{
			name: "GitUpdate",
			msg:  update,
			want: []string{"Did a git update in repo viewer<br>-first<br>-second"},
		},
		{
			name: "GitRepo",
			msg:  message(postKey, map[string]any{"type": "git-repo", "name": "viewer"}),
			want: []string{"Created a git repo viewer"},
		},
		{
			name: "Pub",
			msg:  message(postKey, map[string]any{"type": "pub", "address": map[string]any{"host": "pub.example.com", "port": 8008}}),
			want: []string{"Connected to the pub pub.example.com"},
		},
		{
			name: "Blog",
			msg:  blog,
			want: []string{"<h2>Essay</h2>", "<em>whole</em>"},
		},
		{
			name: "Gathering",
			msg:  gathering,
			want: []string{"<h2>Picnic</h2>", "3 attending"},
		},
		{
			name: "Unknown",
			msg:  message(postKey, map[string]any{"type": "weird", "n": 1}),
			want: []string{"<pre>{\n", "weird"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Body(testOptions(), tt.msg, false)
			if err != nil {
				t.Fatal(err)
			}
			for _, s := range tt.want {
				if !strings.Contains(string(got), s) {
					t.Errorf("Body() = %q, want it to contain %q", got, s)
				}
			}
		})
	}
}

func TestBody_syndicatedVoteWithoutText(t *testing.T) {
	voted := message(voteKey, map[string]any{"type": "vote", "vote": map[string]any{"link": postKey, "value": 1}})
	got, err := Body(testOptions(), voted, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("Body() = %q, want empty", got)
	}
}

func TestBody_scriptLinks(t *testing.T) {
	for _, dest := range []string{
		"javascript:alert(1)",
		"javascript&#58;alert(1)",
		"&#106;avascript:alert(1)",
		"JaVaScRiPt:alert(1)",
		"java&#x09;script:alert(1)",
	} {
		t.Run(dest, func(t *testing.T) {
			msg := message(postKey, map[string]any{"type": "post", "text": "[x](" + dest + ")"})
			got, err := Body(testOptions(), msg, false)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Contains(string(got), "<a") {
				t.Errorf("Body() = %s, want the link dropped", got)
			}
		})
	}
}

func render(t *testing.T, f Format, page Page, opts Options, msgs ...ssb.Message) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := New(f, &buf, page, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Begin(); err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if err := w.Message(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.End(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestNew_html(t *testing.T) {
	post := message(postKey, map[string]any{"type": "post", "text": "hello"})
	got := render(t, HTML, Page{ID: postKey}, testOptions(), post)

	for _, want := range []string{
		"<!doctype html>",
		"<title>" + postKey + " | ssb-viewer</title>",
		"<style>html { background-color: #f1f3f5; }",
		"You are reading content from",
		`<main><article id="%25AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA%3D.sha256">`,
		`<img alt="" src="/&amp;EEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE=.sha256"`,
		`<a class="ssb-avatar-name" href="/%40CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC%3D.ed25519">@alice</a>`,
		`datetime="2017-07-14T02:40:00.000Z"`,
		"3 hours ago",
		"<p>hello</p>",
		"</main>",
		"Join Scuttlebutt now",
		"</body></html>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("HTML page missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Show whole feed") {
		t.Error("Thread page links to the whole feed")
	}
}

func TestNew_htmlFeed(t *testing.T) {
	page := Page{
		ID:         alice,
		Feed:       &ssb.Identity{Name: "@alice", Image: "&EEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE=.sha256", Description: "I *like* go"},
		ShowAllURL: "/user/" + alice + "?showAll",
	}
	got := render(t, HTML, page, testOptions())
	for _, want := range []string{
		`height="200" width="200"`,
		"Feed of @alice<br>",
		"<em>like</em>",
		`<br><a href="/user/@CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC=.ed25519?showAll">Show whole feed</a></main>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Feed page missing %q:\n%s", want, got)
		}
	}
}

func TestNew_rss(t *testing.T) {
	post := message(postKey, map[string]any{"type": "post", "text": "hello & goodbye"})
	vote := message(voteKey, map[string]any{"type": "vote", "vote": map[string]any{"link": postKey, "value": 1}})
	got := render(t, RSS, Page{ID: alice}, testOptions(), post, vote)

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8" ?><rss version="2.0"><channel><title>` + alice + " | ssb-viewer</title>",
		"<item><title>@alice | post</title>",
		"<description><![CDATA[<section><p>hello &amp; goodbye</p>",
		"<link>/%25AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA%3D.sha256</link>",
		"<pubDate>Fri, 14 Jul 2017 02:40:00 GMT</pubDate>",
		"<guid>" + postKey + "</guid></item>",
		"</channel></rss>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("RSS feed missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "<item>"); n != 1 {
		t.Errorf("Got %d items, want 1", n)
	}
}

func TestNew_json(t *testing.T) {
	post := message(postKey, map[string]any{"type": "post", "text": "hello"})
	vote := message(voteKey, map[string]any{"type": "vote", "vote": map[string]any{"link": postKey, "value": 1}})
	vote.Annotations.VoteText = str("hello")
	got := render(t, JSON, Page{}, testOptions(), post, vote)

	var decoded []struct {
		Key   string `json:"key"`
		Value struct {
			Content map[string]any `json:"content"`
		} `json:"value"`
		Annotations struct {
			Author     *ssb.Identity `json:"author"`
			LinkedText *string       `json:"linkedText"`
		} `json:"annotations"`
	}
	if err := json.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("Output is not a JSON array: %v\n%s", err, got)
	}
	if len(decoded) != 2 {
		t.Fatalf("Got %d messages, want 2", len(decoded))
	}
	if decoded[0].Key != postKey || decoded[0].Value.Content["text"] != "hello" {
		t.Errorf("Got first message %+v", decoded[0])
	}
	if decoded[1].Annotations.LinkedText == nil || *decoded[1].Annotations.LinkedText != "hello" {
		t.Error("Vote lost its linked text")
	}
	if decoded[0].Annotations.Author == nil || decoded[0].Annotations.Author.Name != "@alice" {
		t.Error("Post lost its author identity")
	}
}

func TestNew_jsonEmpty(t *testing.T) {
	if got := render(t, JSON, Page{}, testOptions()); got != "[]" {
		t.Errorf("Got %q, want []", got)
	}
}

func TestNew_js(t *testing.T) {
	const token = "__BASE_01ARZ3NDEKTSV4RRFFQ69G5FAV_"
	post := message(postKey, map[string]any{"type": "post", "text": "hello"})

	t.Run("BaseToken", func(t *testing.T) {
		opts := testOptions()
		opts.Base = token
		opts.MsgBase, opts.BlobBase, opts.ImgBase, opts.EmojiBase = "", "", "", ""
		opts.BaseToken = token
		got := render(t, JS, Page{}, opts.WithDefaults(), post)

		if !strings.HasPrefix(got, "var SSB_VIEWER_ORIGIN = (function () {") {
			t.Errorf("Missing origin prelude:\n%s", got)
		}
		if strings.Contains(got, token) {
			t.Errorf("Base token left in output:\n%s", got)
		}
		want := `document.write("\u003clink rel=stylesheet href=\"" + SSB_VIEWER_ORIGIN + "/static/base.css\"\u003e")` + "\n"
		if !strings.Contains(got, want) {
			t.Errorf("Missing stylesheet link %q:\n%s", want, got)
		}
		if !strings.Contains(got, `href=\"" + SSB_VIEWER_ORIGIN + "/%25AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA%3D.sha256\"`) {
			t.Errorf("Permalink not rewritten to script origin:\n%s", got)
		}
	})

	t.Run("FixedBase", func(t *testing.T) {
		opts := testOptions()
		opts.Base = "https://viewer.example/"
		got := render(t, JS, Page{}, opts, post)

		if strings.Contains(got, "SSB_VIEWER_ORIGIN") {
			t.Errorf("Unexpected origin prelude:\n%s", got)
		}
		lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
		if len(lines) != 2 {
			t.Fatalf("Got %d document.write lines, want 2:\n%s", len(lines), got)
		}
		if !strings.HasPrefix(lines[0], `document.write("\u003clink rel=stylesheet href=\"https://viewer.example/static/base.css\"`) {
			t.Errorf("Got first line %q", lines[0])
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		ext     string
		want    Format
		wantErr bool
	}{
		{ext: "", want: HTML},
		{ext: "html", want: HTML},
		{ext: "JS", want: JS},
		{ext: "json", want: JSON},
		{ext: "rss", want: RSS},
		{ext: "xml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.ext)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.ext, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.ext, got, err, tt.want)
		}
	}
	if _, err := New("xml", &bytes.Buffer{}, Page{}, Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("New() error = %v, want ErrUnsupportedFormat", err)
	}
}
