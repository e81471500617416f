package snapshot

import (
	"net/url"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		keys []string
		want map[string]string
	}{
		{"Empty", "", nil, map[string]string{}},
		{"LeadingQuestionMark", "?a=1&b=2", []string{"a", "b"}, map[string]string{"a": "1", "b": "2"}},
		{"Escaped", "q=hello+world&tag=a%2Cb", []string{"q", "tag"}, map[string]string{"q": "hello world", "tag": "a,b"}},
		{"FirstDuplicateWins", "x=1&x=2", []string{"x"}, map[string]string{"x": "1"}},
		{"NoValue", "flag&y=", []string{"flag", "y"}, map[string]string{"flag": "", "y": ""}},
		{"EmptyPairs", "&&a=1&", []string{"a"}, map[string]string{"a": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if got := s.Keys(); len(got) != len(tt.keys) || (len(got) > 0 && !reflect.DeepEqual(got, tt.keys)) {
				t.Errorf("Keys: got %v, want %v", got, tt.keys)
			}
			if got := s.Map(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Map: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse("a=%zz"); err == nil {
		t.Error("expected error for bad escape")
	}
}

func TestWithIsImmutable(t *testing.T) {
	base := MustParse("a=1&b=2")
	next := base.With("a", Ptr("9"), Queued)

	if v, _ := base.Get("a"); v != "1" {
		t.Errorf("base mutated: a=%q", v)
	}
	if v, _ := next.Get("a"); v != "9" {
		t.Errorf("next a: got %q, want 9", v)
	}
	if next.State("a") != Queued {
		t.Errorf("next state: got %v, want queued", next.State("a"))
	}
	if got := next.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("order changed: %v", got)
	}
}

func TestWithNilRemoves(t *testing.T) {
	s := MustParse("a=1&b=2&c=3").With("b", nil, Queued)
	if s.Has("b") {
		t.Error("b should be removed")
	}
	if got := s.Encode(); got != "a=1&c=3" {
		t.Errorf("Encode: got %q", got)
	}
	if v, ok := s.Get("c"); !ok || v != "3" {
		t.Errorf("index not rebuilt after removal: c=%q ok=%v", v, ok)
	}
}

func TestApply(t *testing.T) {
	s := MustParse("page=1&q=go").Apply([]Change{
		{Key: "page", Value: Ptr("2")},
		{Key: "q", Value: nil},
		{Key: "sort", Value: Ptr("desc")},
	}, Navigating)

	if got := s.Encode(); got != "page=2&sort=desc" {
		t.Errorf("Encode: got %q", got)
	}
	if got := s.Pending(); !reflect.DeepEqual(got, []string{"page", "sort"}) {
		t.Errorf("Pending: got %v", got)
	}

	c := s.Confirm("page")
	if c.State("page") != Confirmed || c.State("sort") != Navigating {
		t.Errorf("Confirm(page): page=%v sort=%v", c.State("page"), c.State("sort"))
	}
	if len(s.Confirm().Pending()) != 0 {
		t.Error("Confirm() should confirm everything")
	}
}

func TestSettleKeepsNavigating(t *testing.T) {
	s := MustParse("a=1").
		With("a", Ptr("1"), Navigating).
		With("b", Ptr("2"), Queued).
		With("c", Ptr("3"), Confirmed)

	got := s.Settle()
	want := map[string]State{"a": Navigating, "b": Confirmed, "c": Confirmed}
	for key, state := range want {
		if got.State(key) != state {
			t.Errorf("State(%s) = %v, want %v", key, got.State(key), state)
		}
	}
	if s.State("b") != Queued {
		t.Error("Settle must not modify the receiver")
	}
}

func TestEncodeOmitsAbsentKeys(t *testing.T) {
	s := Empty().With("counter", Ptr("5"), Queued).With("counter", nil, Queued)
	if got := s.String(); got != "" {
		t.Errorf("String: got %q, want empty", got)
	}
}

func TestEncodeEscapes(t *testing.T) {
	s := Empty().With("q", Ptr("a b&c"), Confirmed)
	if got := s.Encode(); got != "q=a+b%26c" {
		t.Errorf("Encode: got %q", got)
	}
	back, err := Parse(s.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(s) {
		t.Errorf("round trip mismatch: %q", back.Encode())
	}
}

func TestRenderURL(t *testing.T) {
	s := MustParse("a=1")
	tests := []struct {
		base, want string
	}{
		{"https://example.com/p", "https://example.com/p?a=1"},
		{"https://example.com/p?old=1", "https://example.com/p?a=1"},
		{"https://example.com/p#top", "https://example.com/p?a=1#top"},
	}
	for _, tt := range tests {
		if got := RenderURL(tt.base, s); got != tt.want {
			t.Errorf("RenderURL(%q): got %q, want %q", tt.base, got, tt.want)
		}
	}
	if got := RenderURL("/p?x=1", Empty()); got != "/p" {
		t.Errorf("empty query: got %q", got)
	}
}

func TestFromValues(t *testing.T) {
	s := FromValues(url.Values{"b": {"2"}, "a": {"1", "x"}})
	if got := s.Encode(); got != "a=1&b=2" {
		t.Errorf("Encode: got %q", got)
	}
	if got := s.Values().Get("a"); got != "1" {
		t.Errorf("Values: got %q", got)
	}
}

func TestZeroValue(t *testing.T) {
	var s Snapshot
	if s.Len() != 0 || s.Has("x") || s.Lookup("x") != nil {
		t.Error("zero snapshot should be empty")
	}
	if s.State("x") != Confirmed {
		t.Error("absent key should report Confirmed")
	}
	if !s.Equal(Empty()) {
		t.Error("zero snapshot should equal Empty()")
	}
}
