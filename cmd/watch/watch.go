// Package watch implements the interactive cursor-watching command.
package watch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/imgprefetch/internal/conf"
	"github.com/tphakala/imgprefetch/internal/fetcher"
	"github.com/tphakala/imgprefetch/internal/imagecache"
	"github.com/tphakala/imgprefetch/internal/logging"
	"github.com/tphakala/imgprefetch/internal/observability"
	"github.com/tphakala/imgprefetch/internal/preload"
	"github.com/tphakala/imgprefetch/internal/urllist"
)

// Command returns the watch subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [flags] <url-list-file>",
		Short: "Watch cursor moves on stdin and preload around each position",
		Long: `Reads an ordered list of image URLs, then reads cursor positions from
standard input (one integer per line). Each move is debounced and the window
around the final position is preloaded into the cache.

Commands on stdin:
  <n>       move the cursor to index n
  status    print cache status
  clear     clear the cache
  quit      exit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(settings, args[0])
		},
	}

	return cmd
}

func runWatch(settings *conf.Settings, listPath string) error {
	urls, err := urllist.Read(listPath)
	if err != nil {
		return err
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
		Enabled: settings.Prefetch.Enabled,
		Range:   settings.Prefetch.Range,
		Delay:   settings.Prefetch.Delay,
	}, preload.WithLogger(logging.ForService("preload")), preload.WithMetrics(m.Prefetch))
	defer scheduler.Close()

	scheduler.SetSequence(urls)

	// Optional Prometheus endpoint
	quit := make(chan struct{})
	var wg sync.WaitGroup
	if settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(settings, m, logging.ForService("observability"))
		if err != nil {
			return err
		}
		endpoint.Start(&wg, quit)
	}
	defer func() {
		close(quit)
		wg.Wait()
	}()

	// Stop reading input on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	stop := make(chan struct{})
	defer close(stop)
	lines := streamLines(os.Stdin, stop)

	fmt.Printf("Watching %d URLs (range %d, delay %v); enter cursor positions:\n",
		len(urls), settings.Prefetch.Range, settings.Prefetch.Delay)

	for {
		select {
		case <-sigChan:
			fmt.Println("Interrupted, shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(line, urls, store, scheduler); done {
				return nil
			}
		}
	}
}

// streamLines emits trimmed lines from r until EOF or stop closes. Closing
// stop releases the reader goroutine even when nobody drains the channel.
func streamLines(r io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-stop:
				return
			}
		}
	}()
	return lines
}

// handleLine executes one stdin command; it returns true when the loop should exit.
func handleLine(line string, urls []string, store *imagecache.Store, scheduler *preload.Scheduler) bool {
	switch line {
	case "":
		return false
	case "quit", "q", "exit":
		return true
	case "status":
		st := store.Status(urls)
		fmt.Printf("Cache: %d/%d loaded (%.0f%%), %d loading\n",
			st.Cached, st.Total, st.CacheRatio*100, st.Loading)
		return false
	case "clear":
		scheduler.ClearCache()
		fmt.Println("Cache cleared")
		return false
	}

	cursor, err := strconv.Atoi(line)
	if err != nil {
		fmt.Printf("Unrecognized input %q (expected a cursor index or a command)\n", line)
		return false
	}
	scheduler.MoveTo(cursor)
	return false
}
