package scenario

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/urlsync/internal/errors"
	"github.com/vango-dev/urlsync/pkg/adapter"
)

func run(t *testing.T, src string) *Result {
	t.Helper()
	sc, err := Parse("test.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	res, err := sc.Run(nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func TestRateLimitedTimeline(t *testing.T) {
	res := run(t, `url: /p
rate_limit_factor: 2
steps:
  - set: {key: a, value: "1", history: push}
  - advance: 10ms
  - set: {key: a, value: "2", history: push}
  - increment: {key: n}
`)

	want := []struct {
		at  time.Duration
		url string
	}{
		{0, "/p"},
		{0, "/p?a=1"},
		{100 * time.Millisecond, "/p?a=2&n=1"},
	}
	if len(res.History) != len(want) {
		t.Fatalf("history = %+v", res.History)
	}
	for i, w := range want {
		got := res.History[i]
		if got.At.Sub(Epoch) != w.at || got.URL != w.url {
			t.Errorf("entry %d = %s at %v, want %s at %v", i, got.URL, got.At.Sub(Epoch), w.url, w.at)
		}
	}
	if res.URL != "/p?a=2&n=1" {
		t.Errorf("URL = %q", res.URL)
	}
	if v, _ := res.Final.Get("n"); v != "1" {
		t.Errorf("n = %q", v)
	}
}

func TestReplaceAndDelete(t *testing.T) {
	res := run(t, `url: /p?sort=asc&page=4
steps:
  - delete: {key: sort}
  - set: {key: page, value: "1"}
`)
	if res.URL != "/p?page=1" {
		t.Errorf("URL = %q", res.URL)
	}
	// The default history mode replaces the initial entry.
	if len(res.History) != 1 || res.History[0].Mode != adapter.Replace {
		t.Errorf("history = %+v", res.History)
	}
}

func TestIncrementComposes(t *testing.T) {
	res := run(t, `url: /p
steps:
  - increment: {key: count}
  - increment: {key: count, by: 5}
`)
	if res.URL != "/p?count=6" {
		t.Errorf("URL = %q", res.URL)
	}
}

func TestUnmountDropsQueued(t *testing.T) {
	res := run(t, `url: /p
steps:
  - set: {key: a, value: "1"}
  - unmount: true
`)
	if res.URL != "/p" {
		t.Errorf("URL = %q, queued write must not reach the URL", res.URL)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d", res.Dropped)
	}
}

func TestBack(t *testing.T) {
	res := run(t, `url: /p?tab=1
steps:
  - set: {key: tab, value: "2", history: push}
  - advance: 0s
  - back: true
`)
	if res.URL != "/p?tab=1" {
		t.Errorf("URL = %q", res.URL)
	}
}

func TestWriteRejected(t *testing.T) {
	sc, err := Parse("test.yaml", []byte(`url: /p?n=abc
steps:
  - increment: {key: n}
`))
	if err != nil {
		t.Fatal(err)
	}
	_, err = sc.Run(nil)
	var ue *errors.Error
	if !stderrors.As(err, &ue) || ue.Code != "U024" {
		t.Fatalf("error = %v, want U024", err)
	}
	if ue.Location == nil || ue.Location.Line != 3 {
		t.Errorf("Location = %v", ue.Location)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantCode string
		wantLine int
	}{
		{"unknown step", "steps:\n  - advance: 1ms\n  - jump: 3\n", "U021", 3},
		{"two keys", "steps:\n  - {set: {key: a}, advance: 1ms}\n", "U021", 2},
		{"bad duration", "steps:\n  - advance: soon\n", "U022", 2},
		{"negative duration", "steps:\n  - advance: -5ms\n", "U022", 2},
		{"missing key", "steps:\n  - set: {value: x}\n", "U022", 2},
		{"bad yaml", "steps: [\n", "U020", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.yaml", []byte(tt.src))
			var ue *errors.Error
			if !stderrors.As(err, &ue) {
				t.Fatalf("error = %v, want *errors.Error", err)
			}
			if ue.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", ue.Code, tt.wantCode)
			}
			if tt.wantLine > 0 && (ue.Location == nil || ue.Location.Line != tt.wantLine) {
				t.Errorf("Location = %v, want line %d", ue.Location, tt.wantLine)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	sc, err := Parse("test.yaml", []byte("steps: []\n"))
	if err != nil {
		t.Fatal(err)
	}
	if sc.URL != "/" || sc.RateLimitFactor != adapter.DefaultRateLimitFactor || sc.MinInterval != 50*time.Millisecond {
		t.Errorf("defaults = %+v", sc)
	}
}

func TestWriteArgsOptions(t *testing.T) {
	no := false
	opts := WriteArgs{History: "push", Scroll: true, Shallow: &no}.Options()
	if opts.History != adapter.Push || !opts.Scroll || opts.Shallow {
		t.Errorf("Options() = %+v", opts)
	}
	if !(WriteArgs{}).Options().Shallow {
		t.Error("shallow should default to true")
	}
}

func TestPrint(t *testing.T) {
	res := run(t, `url: /p
steps:
  - set: {key: a, value: "1", history: push}
  - unmount: true
`)
	var b strings.Builder
	res.Print(&b)
	out := b.String()
	if !strings.Contains(out, "final: /p") || !strings.Contains(out, "dropped: 1") {
		t.Errorf("Print() = %q", out)
	}
}
