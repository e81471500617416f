package wsbind

import (
	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/queue"
)

// Message types exchanged with the browser client.
const (
	// TypeURL (server → client) asks the client to update its address bar.
	TypeURL = "url"

	// TypePopState (client → server) reports a back/forward navigation.
	TypePopState = "popstate"

	// TypeAck (client → server) reports the outcome of a non-shallow update.
	TypeAck = "ack"

	// TypeSet (client → server) is a write intent from client-side code.
	TypeSet = "set"
)

// Message is the JSON envelope for every frame. Which fields are meaningful
// depends on Type.
type Message struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`

	// url
	URL     string `json:"url,omitempty"`
	History string `json:"history,omitempty"`
	Scroll  bool   `json:"scroll"`
	Shallow bool   `json:"shallow"`

	// popstate
	Search string `json:"search,omitempty"`

	// ack
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// set; a null value deletes the key
	Key   string  `json:"key,omitempty"`
	Value *string `json:"value,omitempty"`
}

// Intent is a write requested by the client.
type Intent struct {
	Key     string
	Value   *string
	Options queue.Options
}

func intentFromMessage(m Message) Intent {
	return Intent{
		Key:   m.Key,
		Value: m.Value,
		Options: queue.Options{
			History: adapter.ParseHistoryMode(m.History),
			Scroll:  m.Scroll,
			Shallow: m.Shallow,
		},
	}
}
