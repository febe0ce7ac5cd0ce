package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/imgcache/internal/config"
	"github.com/IvanBrykalov/imgcache/loader"
)

func fetchCommand(flags *globalFlags) *cobra.Command {
	var (
		outDir        string
		maxConcurrent int
	)
	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Fetch images and write them to a directory",
		Long: "Fetch loads every URL concurrently through the cache. Duplicate URLs share one download. " +
			"Failed URLs are written as the placeholder and reported on stderr.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := bootstrap(cmd, flags, func(c *config.Config) {
				if maxConcurrent > 0 {
					c.Loader.MaxConcurrent = maxConcurrent
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return err
			}

			results := make([]*loader.Image, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, raw := range args {
				g.Go(func() error {
					results[i] = a.Loader.Fetch(ctx, raw)
					return nil
				})
			}
			_ = g.Wait()

			failed := 0
			for i, img := range results {
				name := filepath.Join(outDir, fileName(i, img))
				if err := os.WriteFile(name, img.Raw, 0o600); err != nil {
					return err
				}
				if img.Placeholder {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: unavailable, wrote placeholder %s\n", args[i], name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%dx%d %s)\n",
					args[i], name, img.Bounds().Dx(), img.Bounds().Dy(), img.Format)
			}
			if failed > 0 {
				return fmt.Errorf("imgcache: %d of %d images unavailable", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().IntVarP(&maxConcurrent, "concurrency", "j", 0, "override loader.maxConcurrent")
	return cmd
}

// fileName is unique per position so repeated URLs do not overwrite each other.
func fileName(i int, img *loader.Image) string {
	ext := img.Format
	if ext == "" {
		ext = "bin"
	}
	if img.Placeholder {
		return fmt.Sprintf("%03d-placeholder.%s", i, ext)
	}
	return fmt.Sprintf("%03d-%.12s.%s", i, img.Key, ext)
}
