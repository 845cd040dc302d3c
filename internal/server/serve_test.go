package server_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/flutter-oauth/flutter/internal/server"
	"github.com/flutter-oauth/flutter/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ShutsDownOnCancel(t *testing.T) {
	testhelpers.SetupLogger(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "OK")
		}),
		ReadHeaderTimeout: time.Second,
	}

	hookRan := make(chan struct{})
	hooks := &server.ShutdownHooks{}
	hooks.Add("probe", func(context.Context) error {
		close(hookRan)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, srv, l, time.Second, hooks)
	}()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthcheck")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	select {
	case <-hookRan:
	default:
		t.Fatal("shutdown hook did not run")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	testhelpers.SetupLogger(t)

	srv := &http.Server{Addr: "127.0.0.1:-1"}
	err := server.ListenAndServe(context.Background(), srv, time.Second, &server.ShutdownHooks{})
	require.ErrorContains(t, err, "listen failed")
}
