package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmacy-erp/embed-service/pkg/embedclient"
)

// version is the embedctl version.
const version = "0.1.0"

type rootOptions struct {
	url     string
	timeout time.Duration
	retries int
	verbose bool
}

func (o *rootOptions) client() *embedclient.Client {
	opts := embedclient.ClientOptions{
		BaseURL:  o.url,
		Timeout:  o.timeout,
		RetryMax: o.retries,
	}
	if o.verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return embedclient.NewClientWithOptions(opts)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "embedctl",
		Short:         "Client for the face embedding service",
		Version:       version,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	defaultURL := os.Getenv("EMBED_SERVICE_URL")
	if defaultURL == "" {
		defaultURL = embedclient.DefaultBaseURL
	}

	cmd.PersistentFlags().StringVar(&opts.url, "url", defaultURL, "embed service base URL (env EMBED_SERVICE_URL)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", embedclient.DefaultTimeout, "per-request timeout")
	cmd.PersistentFlags().IntVar(&opts.retries, "retries", 0, "retries on connection errors and 5xx responses")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log retry attempts to stderr")

	cmd.AddCommand(
		newEmbedCmd(opts),
		newCompareCmd(opts),
		newHealthCmd(opts),
	)

	return cmd
}
