// Package fetch implements the one-shot preload command.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/imgprefetch/internal/conf"
	"github.com/tphakala/imgprefetch/internal/fetcher"
	"github.com/tphakala/imgprefetch/internal/imagecache"
	"github.com/tphakala/imgprefetch/internal/logging"
	"github.com/tphakala/imgprefetch/internal/observability"
	"github.com/tphakala/imgprefetch/internal/preload"
	"github.com/tphakala/imgprefetch/internal/urllist"
)

// Command returns the fetch subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var cursor int
	var saveDir string

	cmd := &cobra.Command{
		Use:   "fetch [flags] <url-list-file>",
		Short: "Preload the window around a cursor position once and exit",
		Long: `Reads an ordered list of image URLs (one per line, # comments allowed)
and preloads the window around the given cursor position into the cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(settings, args[0], cursor, saveDir)
		},
	}

	cmd.Flags().IntVarP(&cursor, "cursor", "c", 0, "Cursor position in the URL sequence")
	cmd.Flags().StringVar(&saveDir, "save", "", "Directory to save preloaded images into")

	return cmd
}

func runFetch(settings *conf.Settings, listPath string, cursor int, saveDir string) error {
	urls, err := urllist.Read(listPath)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		fmt.Println("URL list is empty, nothing to preload")
		return nil
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	client, err := fetcher.NewClient(fetcher.ConfigFromSettings(settings))
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}
	defer client.Close()

	store := imagecache.New(client,
		imagecache.WithMetrics(m.Prefetch),
		imagecache.WithLogger(logging.ForService("imagecache")),
		imagecache.WithDebug(settings.Debug))

	scheduler := preload.NewScheduler(store, preload.Config{
		Enabled: true,
		Range:   settings.Prefetch.Range,
		Delay:   settings.Prefetch.Delay,
	}, preload.WithLogger(logging.ForService("preload")), preload.WithMetrics(m.Prefetch))
	defer scheduler.Close()

	scheduler.SetSequence(urls)
	requested, failed := scheduler.PreloadNow(cursor)

	status := store.Status(urls)
	fmt.Printf("Preloaded %d of %d requested images (%d failed)\n",
		requested-failed, requested, failed)
	fmt.Printf("Cache: %d/%d loaded (%.0f%%), %d still loading\n",
		status.Cached, status.Total, status.CacheRatio*100, status.Loading)

	if saveDir != "" {
		if err := saveCached(store, urls, saveDir); err != nil {
			return err
		}
	}

	return nil
}

// saveCached writes every loaded image to dir, named by URL digest.
func saveCached(store *imagecache.Store, urls []string, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create save directory: %w", err)
	}

	saved := 0
	for _, url := range urls {
		if !store.IsCached(url) {
			continue
		}
		img, err := store.Request(context.Background(), url)
		if err != nil {
			continue
		}
		name := fileNameFor(url, img.ContentType)
		if err := os.WriteFile(filepath.Join(dir, name), img.Data, 0o644); err != nil {
			return fmt.Errorf("failed to save %s: %w", url, err)
		}
		saved++
	}

	fmt.Printf("Saved %d images to %s\n", saved, dir)
	return nil
}

// fileNameFor derives a stable file name from the URL and its content type.
func fileNameFor(url, contentType string) string {
	sum := sha256.Sum256([]byte(url))
	ext := ".img"
	switch {
	case strings.Contains(contentType, "jpeg"):
		ext = ".jpg"
	case strings.Contains(contentType, "png"):
		ext = ".png"
	case strings.Contains(contentType, "gif"):
		ext = ".gif"
	case strings.Contains(contentType, "webp"):
		ext = ".webp"
	}
	return hex.EncodeToString(sum[:8]) + ext
}
