package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/urlsync/internal/config"
	"github.com/vango-dev/urlsync/pkg/adapter/wsbind"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("output = %q, want %q", out, version)
	}
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burst.yaml")
	src := `url: /search
rate_limit_factor: 2
steps:
  - set: {key: q, value: go, history: push}
  - advance: 10ms
  - set: {key: q, value: gophers}
  - increment: {key: page}
`
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "replay", path)
	if err != nil {
		t.Fatalf("replay error = %v", err)
	}
	for _, want := range []string{"/search?q=go", "100ms", "final: /search?q=gophers&page=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReplayRequiresOneArg(t *testing.T) {
	_, err := execute(t, "replay")
	if err == nil || !strings.Contains(err.Error(), "U060") {
		t.Errorf("error = %v, want U060", err)
	}
}

func TestReplayMissingFile(t *testing.T) {
	_, err := execute(t, "replay", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "U020") {
		t.Errorf("error = %v, want U020", err)
	}
}

func TestServerRoutes(t *testing.T) {
	cfg := config.New()
	cfg.Sync.MinInterval = 5 * time.Millisecond
	srv := newServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.handler)
	defer ts.Close()
	defer srv.ws.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?url=%2Fp"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	v := "1"
	conn.WriteJSON(wsbind.Message{Type: wsbind.TypeSet, Key: "a", Value: &v, Shallow: true})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m wsbind.Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.URL != "/p?a=1" {
		t.Errorf("url message = %+v", m)
	}

	resp, err = http.Get(ts.URL + cfg.Metrics.Path)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"urlsync_mounted_syncers 1", "urlsync_navigation_errors_total 0"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://app.example.com"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8080", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://localhost:8080/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
