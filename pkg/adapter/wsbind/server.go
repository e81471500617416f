package wsbind

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/urlsync/internal/idgen"
)

// ConnectFunc is called for every new binding before its read loop starts.
// The returned function, if any, runs after the connection ends.
type ConnectFunc func(b *Binding) (release func())

// ServerConfig configures a Server.
type ServerConfig struct {
	// ReadBufferSize and WriteBufferSize size the websocket buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the Origin header. Nil accepts same-origin only.
	CheckOrigin func(r *http.Request) bool

	// BindingOptions are applied to every new Binding.
	BindingOptions []BindingOption

	// OnConnect mounts the engine on a new binding.
	OnConnect ConnectFunc

	// NewID names bindings. Default: UUIDv7.
	NewID idgen.Generator

	Logger *slog.Logger
}

// Server accepts browser connections and tracks their bindings.
type Server struct {
	config   ServerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.RWMutex
	bindings map[string]*Binding
}

// NewServer creates a Server.
func NewServer(config ServerConfig) *Server {
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 1024
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 1024
	}
	if config.NewID == nil {
		config.NewID = idgen.UUIDv7()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger:   logger,
		bindings: make(map[string]*Binding),
	}
}

// Handler returns the routes:
//
//	GET /ws?url=<page url>   upgrade and bind
//	GET /state               JSON view of every connected binding
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.serveWS)
	r.Get("/state", s.serveState)
	return r
}

// Len returns the number of connected bindings.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

// Binding returns the binding with the given ID.
func (s *Server) Binding(id string) (*Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[id]
	return b, ok
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		rawURL = "/"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	id := s.config.NewID()
	opts := append([]BindingOption{WithBindingLogger(s.logger)}, s.config.BindingOptions...)
	b, err := NewBinding(id, conn, rawURL, opts...)
	if err != nil {
		s.logger.Warn("rejecting connection", "url", rawURL, "error", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, "invalid url"))
		conn.Close()
		return
	}

	s.mu.Lock()
	s.bindings[id] = b
	s.mu.Unlock()
	s.logger.Info("client connected", "binding", id, "url", rawURL)

	var release func()
	if s.config.OnConnect != nil {
		release = s.config.OnConnect(b)
	}

	b.ReadLoop()

	if release != nil {
		release()
	}
	s.mu.Lock()
	delete(s.bindings, id)
	s.mu.Unlock()
	s.logger.Info("client disconnected", "binding", id)
}

// StateEntry is one key in a /state response.
type StateEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	State string `json:"state"`
}

// BindingState is one binding in a /state response.
type BindingState struct {
	ID      string       `json:"id"`
	URL     string       `json:"url"`
	Entries []StateEntry `json:"entries"`
}

// States returns the state of every binding, ordered by ID.
func (s *Server) States() []BindingState {
	s.mu.RLock()
	bindings := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		bindings = append(bindings, b)
	}
	s.mu.RUnlock()

	out := make([]BindingState, 0, len(bindings))
	for _, b := range bindings {
		search := b.SearchParams()
		st := BindingState{ID: b.ID(), URL: b.URL(), Entries: []StateEntry{}}
		for _, e := range search.Entries() {
			st.Entries = append(st.Entries, StateEntry{Key: e.Key, Value: e.Value, State: e.State.String()})
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) serveState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.States()); err != nil {
		s.logger.Warn("encode state", "error", err)
	}
}

// Close closes every binding.
func (s *Server) Close() {
	s.mu.RLock()
	bindings := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		bindings = append(bindings, b)
	}
	s.mu.RUnlock()
	for _, b := range bindings {
		b.Close()
	}
}
