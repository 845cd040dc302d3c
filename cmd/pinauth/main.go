// This command is only used for local testing: it runs the out-of-band (PIN)
// OAuth flow in a terminal and prints access credentials that can be used to
// exercise the API routes without a browser.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flutter-oauth/flutter/internal/signing"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	ConsumerKey    string `env:"OAUTH_CONSUMER_KEY, required"`
	ConsumerSecret string `env:"OAUTH_CONSUMER_SECRET, required"`
	BaseURL        string `env:"PINAUTH_BASE_URL"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	err = run(context.Background(), cfg, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	client := signing.New(signing.Settings{
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		CallbackURL:    "oob",
		BaseURL:        cfg.BaseURL,
	}, nil)

	requestToken, requestSecret, err := client.RequestToken(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Authorize this application at:\n\n  %s\n\nthen enter the PIN: ", client.AuthorizeURL(requestToken))

	pin, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && pin == "" {
		return fmt.Errorf("error reading PIN: %w", err)
	}
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return fmt.Errorf("no PIN entered")
	}

	creds, extra, err := client.AccessToken(ctx, requestToken, requestSecret, pin)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n")
	if name := extra.Get("screen_name"); name != "" {
		fmt.Fprintf(out, "screen_name=%s\n", name)
	}
	fmt.Fprintf(out, "token=%s\n", creds.Token)
	fmt.Fprintf(out, "secret=%s\n", creds.Secret)

	return nil
}
