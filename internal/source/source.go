// Package source fetches and parses playlists from configured upstream
// providers.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tvgate/tvgate/internal/config"
	"github.com/tvgate/tvgate/internal/httpclient"
	"github.com/tvgate/tvgate/internal/observability"
	"github.com/tvgate/tvgate/internal/version"
	"github.com/tvgate/tvgate/pkg/m3u"
)

// Source is one configured upstream playlist provider.
type Source struct {
	name        string
	url         string
	forwardUser bool
	client      *httpclient.Client
	logger      *slog.Logger
}

// New creates a Source from its configuration, sharing the given HTTP
// client for playlist fetches.
func New(cfg config.SourceConfig, client *httpclient.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		name:        cfg.Name,
		url:         cfg.URL,
		forwardUser: cfg.ForwardUser,
		client:      client,
		logger:      observability.WithComponent(logger, "source").With(slog.String("source", cfg.Name)),
	}
}

// Name returns the configured source name.
func (s *Source) Name() string { return s.name }

// URL returns the configured playlist URL.
func (s *Source) URL() string { return s.url }

// ForwardUser reports whether stream requests to this provider should
// carry the forwarded-user header.
func (s *Source) ForwardUser() bool { return s.forwardUser }

// FetchPlaylist downloads and parses the provider's playlist. Compressed
// payloads (gzip, bzip2, xz) are detected and decompressed transparently.
// Malformed entries are logged and skipped; any transport or decode
// failure fails the whole fetch.
func (s *Source) FetchPlaylist(ctx context.Context) ([]m3u.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building playlist request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching playlist: unexpected status %d", resp.StatusCode)
	}

	var entries []m3u.Entry
	parser := &m3u.Parser{
		OnEntry: func(entry *m3u.Entry) error {
			e := *entry
			e.Tags = append([]string(nil), entry.Tags...)
			entries = append(entries, e)
			return nil
		},
		OnError: func(lineNum int, err error) {
			s.logger.Warn("skipping malformed playlist line",
				slog.Int("line", lineNum),
				slog.String("error", err.Error()))
		},
	}

	if err := parser.ParseCompressed(resp.Body); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	s.logger.Debug("playlist fetched", slog.Int("entries", len(entries)))
	return entries, nil
}

// SanitizedURL returns the playlist URL with credential-bearing query
// parameters redacted, for logging.
func (s *Source) SanitizedURL() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return s.url
	}
	return httpclient.SanitizeURL(u)
}
