package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Serve accepts connections on l until ctx is done or serving fails. The
// server is then given shutdownTimeout to drain before the hooks run.
func Serve(ctx context.Context, srv *http.Server, l net.Listener, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", l.Addr().String()).Msg("server listening")
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			err = fmt.Errorf("shutdown failed: %w", err)
		}
		return errors.Join(err, hooks.Execute(shutdownCtx))
	})

	return g.Wait()
}

// ListenAndServe listens on the server address and calls Serve.
func ListenAndServe(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}
	return Serve(ctx, srv, l, shutdownTimeout, hooks)
}
