package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks releases resources once the server has stopped. Hooks run in
// the order added; a failing hook does not prevent the rest from running.
type ShutdownHooks struct {
	hooks []hook
}

// Add registers a hook. Nil hooks are ignored.
func (s *ShutdownHooks) Add(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("nil shutdown hook ignored")
		return
	}
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// AddCloser registers a hook closing c.
func (s *ShutdownHooks) AddCloser(name string, c io.Closer) {
	if c == nil {
		log.Warn().Str("hook", name).Msg("nil shutdown hook ignored")
		return
	}
	s.Add(name, func(context.Context) error { return c.Close() })
}

// Execute runs every hook, returning the combined failures.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	var errs []error
	for _, h := range s.hooks {
		l := log.Ctx(ctx).With().Str("hook", h.name).Logger()

		if err := h.fn(ctx); err != nil {
			l.Warn().Err(err).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		l.Debug().Msg("shutdown hook complete")
	}
	return errors.Join(errs...)
}
