// Package scenario replays scripted URL writes against the sync engine on a
// manual clock, so the flush timeline is exact and repeatable.
//
//	url: /search?q=go
//	rate_limit_factor: 2
//	steps:
//	  - set: {key: q, value: gophers, history: push}
//	  - advance: 10ms
//	  - increment: {key: page}
//	  - delete: {key: sort}
//	  - advance: 200ms
//	  - back: true
package scenario

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/urlsync"
	"github.com/vango-dev/urlsync/internal/clock"
	"github.com/vango-dev/urlsync/internal/errors"
	"github.com/vango-dev/urlsync/internal/idgen"
	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/queue"
	"github.com/vango-dev/urlsync/pkg/snapshot"
	"github.com/vango-dev/urlsync/pkg/throttle"
)

// Epoch is the manual clock's start time. Offsets in results are relative
// to it.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Kind names a step.
type Kind string

const (
	KindSet       Kind = "set"
	KindDelete    Kind = "delete"
	KindIncrement Kind = "increment"
	KindAdvance   Kind = "advance"
	KindBack      Kind = "back"
	KindUnmount   Kind = "unmount"
)

// WriteArgs are the arguments of set, delete and increment.
type WriteArgs struct {
	Key     string `yaml:"key"`
	Value   string `yaml:"value"`
	By      int    `yaml:"by"`
	History string `yaml:"history"`
	Scroll  bool   `yaml:"scroll"`
	Shallow *bool  `yaml:"shallow"`
}

// Options converts the arguments to queue options. Shallow defaults to true.
func (a WriteArgs) Options() queue.Options {
	shallow := true
	if a.Shallow != nil {
		shallow = *a.Shallow
	}
	return queue.Options{
		History: adapter.ParseHistoryMode(a.History),
		Scroll:  a.Scroll,
		Shallow: shallow,
	}
}

// Step is one scripted action.
type Step struct {
	Kind    Kind
	Write   WriteArgs
	Advance time.Duration

	node *yaml.Node
}

// Scenario is a parsed scenario file.
type Scenario struct {
	URL             string        `yaml:"url"`
	RateLimitFactor float64       `yaml:"rate_limit_factor"`
	MinInterval     time.Duration `yaml:"min_interval"`
	RawSteps        []yaml.Node   `yaml:"steps"`

	Steps []Step `yaml:"-"`
	path  string
}

// LoadFile reads and parses a scenario file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("U020").Wrap(err)
	}
	return Parse(path, data)
}

// Parse decodes a scenario. path is used for error locations only.
func Parse(path string, data []byte) (*Scenario, error) {
	sc := &Scenario{path: path}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, errors.New("U020").Wrap(err)
	}
	if sc.URL == "" {
		sc.URL = "/"
	}
	if sc.RateLimitFactor == 0 {
		sc.RateLimitFactor = adapter.DefaultRateLimitFactor
	}
	if sc.MinInterval == 0 {
		sc.MinInterval = throttle.DefaultMinInterval
	}

	for i := range sc.RawSteps {
		step, err := sc.parseStep(&sc.RawSteps[i])
		if err != nil {
			return nil, err
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func (sc *Scenario) parseStep(n *yaml.Node) (Step, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return Step{}, errors.New("U021").WithNode(sc.path, n).
			WithSuggestion("Write each step as a single key, e.g. - advance: 50ms")
	}
	key, val := n.Content[0], n.Content[1]
	step := Step{Kind: Kind(key.Value), node: n}

	switch step.Kind {
	case KindSet, KindDelete, KindIncrement:
		if err := val.Decode(&step.Write); err != nil {
			return Step{}, errors.New("U022").WithNode(sc.path, val).Wrap(err)
		}
		if step.Write.Key == "" {
			return Step{}, errors.New("U022").WithNode(sc.path, val).
				WithDetail(string(step.Kind) + " needs a key").
				WithExample("- " + string(step.Kind) + ": {key: page}")
		}
		if step.Kind == KindIncrement && step.Write.By == 0 {
			step.Write.By = 1
		}
	case KindAdvance:
		d, err := time.ParseDuration(val.Value)
		if err != nil || d < 0 {
			return Step{}, errors.New("U022").WithNode(sc.path, val).
				WithDetail("advance needs a non-negative duration").
				WithExample("- advance: 50ms")
		}
		step.Advance = d
	case KindBack, KindUnmount:
	default:
		return Step{}, errors.New("U021").WithNode(sc.path, key).
			Wrap(fmt.Errorf("unknown step %q", key.Value)).
			WithSuggestion("Valid steps: set, delete, increment, advance, back, unmount")
	}
	return step, nil
}

// Result is the outcome of a replay.
type Result struct {
	History []adapter.HistoryEntry
	URL     string
	Final   snapshot.Snapshot

	// Dropped counts writes discarded by an unmount step.
	Dropped int
}

// Run replays the scenario. Flushes still pending after the last step are
// allowed to complete.
func (sc *Scenario) Run(logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := clock.NewManual(Epoch)
	mem, err := adapter.NewMemory(sc.URL,
		adapter.WithRateLimitFactor(sc.RateLimitFactor),
		adapter.WithMemoryClock(c),
		adapter.WithMemoryLogger(logger),
	)
	if err != nil {
		return nil, errors.New("U023").Wrap(err)
	}
	defer mem.Close()

	s := urlsync.Mount(mem,
		urlsync.WithClock(c),
		urlsync.WithMinInterval(sc.MinInterval),
		urlsync.WithIDGenerator(idgen.Sequential("batch-")),
		urlsync.WithLogger(logger),
	)
	defer s.Unmount()

	res := &Result{}
	for _, step := range sc.Steps {
		switch step.Kind {
		case KindSet:
			err = s.Set(step.Write.Key, step.Write.Value, step.Write.Options())
		case KindDelete:
			err = s.Delete(step.Write.Key, step.Write.Options())
		case KindIncrement:
			err = s.Update(step.Write.Key, increment(step.Write.By), step.Write.Options())
		case KindAdvance:
			c.Advance(step.Advance)
		case KindBack:
			mem.Back()
		case KindUnmount:
			res.Dropped += s.Pending()
			s.Unmount()
		}
		if err != nil {
			return nil, errors.New("U024").WithNode(sc.path, step.node).Wrap(err)
		}
	}

	// Let the last rate-limited flush land.
	for c.Pending() > 0 {
		c.Advance(s.Interval())
	}

	res.History = mem.History().Entries()
	res.URL = mem.URL()
	res.Final = mem.SearchParams()
	return res, nil
}

func increment(by int) queue.UpdateFunc {
	return func(prev *string) (*string, error) {
		n := 0
		if prev != nil {
			v, err := strconv.Atoi(*prev)
			if err != nil {
				return nil, fmt.Errorf("increment %q: not an integer", *prev)
			}
			n = v
		}
		next := strconv.Itoa(n + by)
		return &next, nil
	}
}

// Print writes the history and final URL.
func (r *Result) Print(w io.Writer) {
	for _, e := range r.History {
		fmt.Fprintf(w, "%4d  %8s  %-7s  %s\n", e.Seq, e.At.Sub(Epoch), e.Mode, e.URL)
	}
	fmt.Fprintf(w, "final: %s\n", r.URL)
	if r.Dropped > 0 {
		fmt.Fprintf(w, "dropped: %d queued write(s) at unmount\n", r.Dropped)
	}
}
