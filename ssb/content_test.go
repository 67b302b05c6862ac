package ssb

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	testFeed = "@AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=.ed25519"
	testMsg  = "%BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB=.sha256"
	testBlob = "&CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC=.sha256"
)

func TestDecodeContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Content
	}{
		{
			name: "Post",
			raw:  `{"type":"post","text":"hi","channel":"#general","root":"` + testMsg + `","branch":"` + testMsg + `","mentions":[{"link":"` + testFeed + `","name":"bob"},"junk"]}`,
			want: &Post{
				Text:     "hi",
				Channel:  "#general",
				Root:     Ref(testMsg),
				Branch:   Refs{testMsg},
				Mentions: Mentions{{Link: testFeed, Name: "bob"}},
			},
		},
		{
			name: "Vote",
			raw:  `{"type":"vote","vote":{"link":"` + testMsg + `","value":1,"expression":"Dig"}}`,
			want: &Vote{Vote: VoteBody{Link: Ref(testMsg), Value: 1, Expression: "Dig"}},
		},
		{
			name: "ContactObjectLink",
			raw:  `{"type":"contact","contact":{"link":"` + testFeed + `"},"following":true}`,
			want: &Contact{Contact: Ref(testFeed), Following: true},
		},
		{
			name: "PubStringAddress",
			raw:  `{"type":"pub","address":"net:pub.example.com:8008~shs:key"}`,
			want: &Pub{Address: PubAddress{Host: "pub.example.com"}},
		},
		{
			name: "AboutImageObject",
			raw:  `{"type":"about","about":"` + testFeed + `","name":"alice","image":{"link":"` + testBlob + `","size":12}}`,
			want: &About{About: Ref(testFeed), Name: "alice", Image: Ref(testBlob)},
		},
		{
			name: "Private",
			raw:  `"c2VjcmV0.box"`,
			want: Private("c2VjcmV0.box"),
		},
		{
			name: "UnknownType",
			raw:  `{"type":"chess_move","from":"e2"}`,
			want: &Unknown{Kind: "chess_move", Raw: json.RawMessage(`{"type":"chess_move","from":"e2"}`)},
		},
		{
			name: "MalformedKnownType",
			raw:  `{"type":"post","text":42}`,
			want: &Unknown{Kind: "post", Raw: json.RawMessage(`{"type":"post","text":42}`)},
		},
		{
			name: "Null",
			raw:  `null`,
			want: &Unknown{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeContent(json.RawMessage(tt.raw))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeContent() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValueUnmarshal(t *testing.T) {
	raw := `{"author":"` + testFeed + `","sequence":3,"timestamp":1500000000000,"content":{"type":"post","text":"hello"}}`
	var v Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatal(err)
	}
	post, ok := v.Content.(*Post)
	if !ok {
		t.Fatalf("Got content %T, want *Post", v.Content)
	}
	if post.Text != "hello" {
		t.Errorf("Got text %q, want hello", post.Text)
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	content, _ := back["content"].(map[string]any)
	if content["text"] != "hello" {
		t.Errorf("Marshalled content = %v, want the raw content", back["content"])
	}
}

func TestChannelOf(t *testing.T) {
	if got := ChannelOf(&Post{Channel: "#ssb"}); got != "ssb" {
		t.Errorf("Got %q, want ssb", got)
	}
	if got := ChannelOf(&Contact{}); got != "" {
		t.Errorf("Got %q, want empty", got)
	}
}

func TestRefs(t *testing.T) {
	tests := []struct {
		in              string
		feed, msg, blob bool
	}{
		{in: testFeed, feed: true},
		{in: testMsg, msg: true},
		{in: testBlob, blob: true},
		{in: "%short.sha256"},
		{in: "#channel"},
	}
	for _, tt := range tests {
		if IsFeed(tt.in) != tt.feed || IsMsg(tt.in) != tt.msg || IsBlob(tt.in) != tt.blob {
			t.Errorf("%q: got feed=%v msg=%v blob=%v", tt.in, IsFeed(tt.in), IsMsg(tt.in), IsBlob(tt.in))
		}
	}
	if id := BlobID([]byte("hello")); !IsBlob(id) {
		t.Errorf("BlobID() = %q is not a blob ref", id)
	}
}

func TestExtractLinks(t *testing.T) {
	raw := `{
		"type": "post",
		"root": "` + testMsg + `",
		"mentions": [{"link": "` + testFeed + `", "name": "bob"}, {"link": "` + testBlob + `"}],
		"vote": {"link": "` + testMsg + `"},
		"text": "` + testFeed + `"
	}`
	got := ExtractLinks(json.RawMessage(raw))
	want := []Link{
		{Rel: "mentions", Dest: testFeed},
		{Rel: "mentions", Dest: testBlob},
		{Rel: "root", Dest: testMsg},
		{Rel: "text", Dest: testFeed},
		{Rel: "vote", Dest: testMsg},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractLinks() mismatch (-want +got):\n%s", diff)
	}

	if got := ExtractLinks(json.RawMessage(`"boxed"`)); got != nil {
		t.Errorf("Got links %v for private content, want none", got)
	}
}

func TestCausalLinks(t *testing.T) {
	got := CausalLinks(json.RawMessage(`{"root":"` + testMsg + `","branch":["` + testMsg + `"]}`))
	if diff := cmp.Diff([]string{testMsg, testMsg}, got); diff != "" {
		t.Errorf("CausalLinks() mismatch (-want +got):\n%s", diff)
	}
}
