package buddyalloc

import (
	"context"
	"math/rand"

	"golang.org/x/exp/slog"
)

// Option configures an Allocator built with New. The zero value of the underlying options
// struct (no logger, a process-default random source) is what the package-level default
// instance uses.
type Option func(*options)

type options struct {
	logger *slog.Logger
	rng    *rand.Rand
}

// WithLogger attaches a structured logger. Initialization, huge-page mapping decisions, and
// unmap-length rounding are logged at Debug level; a cookie mismatch is logged at Error level
// immediately before the process terminates. A nil logger (the default) makes all of this a
// no-op.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRandomSource overrides the random source used to generate the allocator's integrity
// cookie. Production code has no reason to call this; tests use it to get a deterministic
// cookie so a corruption scenario can be reproduced exactly.
func WithRandomSource(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

func (o *options) logf(level slog.Level, msg string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Log(context.Background(), level, msg, args...)
}
