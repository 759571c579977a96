// Package urllist reads ordered image URL sequences from plain text input.
package urllist

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/tphakala/imgprefetch/internal/errors"
)

// Read loads one URL per line from the file at path, skipping blank lines
// and # comments.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Newf("failed to open URL list: %w", err).
			Category(errors.CategoryFileIO).
			Component("urllist").
			Build()
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f)
}

// Parse reads one URL per line from r, skipping blank lines and # comments.
func Parse(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Newf("failed to read URL list: %w", err).
			Category(errors.CategoryFileIO).
			Component("urllist").
			Build()
	}
	return urls, nil
}
