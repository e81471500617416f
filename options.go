package urlsync

import (
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/urlsync/internal/clock"
	"github.com/vango-dev/urlsync/internal/idgen"
	"github.com/vango-dev/urlsync/pkg/telemetry"
	"github.com/vango-dev/urlsync/pkg/throttle"
)

// Option configures a Syncer.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	clock       clock.Clock
	minInterval time.Duration
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	newID       idgen.Generator
}

func defaultConfig() config {
	return config{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:       clock.Real(),
		minInterval: throttle.DefaultMinInterval,
		newID:       idgen.UUIDv7(),
	}
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source for the rate limiter.
func WithClock(cl clock.Clock) Option {
	return func(c *config) {
		if cl != nil {
			c.clock = cl
		}
	}
}

// WithMinInterval sets the host's minimum navigation interval before the
// adapter's rate limit factor is applied. Default: 50ms.
func WithMinInterval(d time.Duration) Option {
	return func(c *config) {
		c.minInterval = d
	}
}

// WithMetrics records Prometheus metrics for this syncer.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithTracer emits a span per flush.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) {
		c.tracer = t
	}
}

// WithIDGenerator sets how batch IDs are generated. Default: UUIDv7.
func WithIDGenerator(gen func() string) Option {
	return func(c *config) {
		if gen != nil {
			c.newID = gen
		}
	}
}
