package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pharmacy-erp/embed-service/pkg/embedclient"
	"github.com/pharmacy-erp/embed-service/pkg/embeddings"
)

type compareOptions struct {
	threshold float64
}

func newCompareCmd(root *rootOptions) *cobra.Command {
	opts := &compareOptions{}

	cmd := &cobra.Command{
		Use:   "compare <image_a> <image_b>",
		Short: "Embed two images and report whether they show the same person",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runCompare(cmd.Context(), cmd.OutOrStdout(), root.client(), args[0], args[1], opts)
		},
	}

	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", 0.6, "maximum euclidean distance for a match")

	return cmd
}

func runCompare(ctx context.Context, out io.Writer, client *embedclient.Client, pathA, pathB string, opts *compareOptions) error {
	a, err := embedFile(ctx, client, pathA)
	if err != nil {
		return err
	}

	b, err := embedFile(ctx, client, pathB)
	if err != nil {
		return err
	}

	distance, err := embeddings.Distance(a, b)
	if err != nil {
		return err
	}

	cosine, err := embeddings.Cosine(a, b)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "distance=%.4f cosine=%.4f match=%t\n", distance, cosine, distance <= opts.threshold)
	return err
}

func embedFile(ctx context.Context, client *embedclient.Client, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	embedding, err := client.Embed(ctx, data)
	if errors.Is(err, embedclient.ErrNoFace) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return embedding, err
}
