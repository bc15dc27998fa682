package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pharmacy-erp/embed-service/pkg/embedclient"
)

type embedOptions struct {
	base64 bool
}

func newEmbedCmd(root *rootOptions) *cobra.Command {
	opts := &embedOptions{}

	cmd := &cobra.Command{
		Use:   "embed <image_path|->",
		Short: "Print the embedding of the largest face in an image",
		Long: "Uploads the image and prints the service response as JSON. " +
			"Use - to read from stdin. With --base64 the input is a base64 string, optionally a data URL.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runEmbed(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), root.client(), args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.base64, "base64", false, "input is base64 encoded")

	return cmd
}

func runEmbed(ctx context.Context, out io.Writer, in io.Reader, client *embedclient.Client, path string, opts *embedOptions) error {
	data, err := readInput(in, path)
	if err != nil {
		return err
	}

	if opts.base64 {
		embedding, err := client.EmbedBase64(ctx, strings.TrimSpace(string(data)))
		if err != nil {
			return embedResult(out, nil, err)
		}
		return embedResult(out, embedding, nil)
	}

	resp, err := client.EmbedRaw(ctx, data)
	if err != nil {
		return err
	}

	return writeJSON(out, resp)
}

// embedResult prints the same JSON shape the service returns.
func embedResult(out io.Writer, embedding []float32, err error) error {
	switch {
	case err == nil:
		return writeJSON(out, embedclient.EmbedResponse{OK: true, Embedding: embedding})
	case errors.Is(err, embedclient.ErrNoFace):
		return writeJSON(out, embedclient.EmbedResponse{OK: false, Reason: embedclient.ReasonNoFace})
	default:
		return err
	}
}

func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	return data, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	return enc.Encode(v)
}
