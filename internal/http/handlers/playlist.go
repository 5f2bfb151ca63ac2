// Package handlers contains the HTTP handlers for the proxy surface and
// the status API.
package handlers

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/tvgate/tvgate/internal/auth"
	"github.com/tvgate/tvgate/internal/config"
	"github.com/tvgate/tvgate/internal/observability"
	"github.com/tvgate/tvgate/internal/registry"
	"github.com/tvgate/tvgate/pkg/m3u"
)

// notFoundBody is the body for every rejected or unmatched request.
// Auth failures answer the same way as unknown paths so the surface
// leaks nothing about which resources exist.
const notFoundBody = "N/A"

// NotFound writes the uniform 404 response.
func NotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(notFoundBody))
}

// PlaylistHandler renders the aggregated playlist with proxied,
// token-bearing channel URLs.
type PlaylistHandler struct {
	registry *registry.Registry
	auth     *auth.Authenticator
	proxy    config.ProxyConfig
	baseURL  string
	logger   *slog.Logger
}

// NewPlaylistHandler creates a playlist handler. baseURL is the
// externally visible root URL without a trailing slash.
func NewPlaylistHandler(reg *registry.Registry, authn *auth.Authenticator, proxy config.ProxyConfig, baseURL string, logger *slog.Logger) *PlaylistHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaylistHandler{
		registry: reg,
		auth:     authn,
		proxy:    proxy,
		baseURL:  baseURL,
		logger:   observability.WithComponent(logger, "playlist"),
	}
}

// ServeM3U handles GET /m3u and GET /m3u/{user}.
func (h *PlaylistHandler) ServeM3U(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	switch {
	case user != "":
		if !h.proxy.AllowedUser(user) {
			h.logger.Warn("playlist request for unknown user", slog.String("user", user))
			NotFound(w)
			return
		}
	case h.proxy.AllowAnonymous:
		user = h.auth.NextAnonymous()
	default:
		NotFound(w)
		return
	}

	token := h.auth.Issue(user)
	channels := h.registry.Channels()

	w.Header().Set("Content-Type", "audio/mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename=playlist.m3u`)

	writer := m3u.NewWriter(w)
	if err := writer.WriteHeader(); err != nil {
		return
	}
	for _, ch := range channels {
		entry := &m3u.Entry{
			Name: ch.Name(),
			Tags: ch.Tags(),
			URL:  h.baseURL + "/" + ch.ID() + "/channel.m3u8?t=" + url.QueryEscape(token),
		}
		if err := writer.WriteEntry(entry); err != nil {
			return
		}
	}

	h.logger.Debug("playlist served",
		slog.String("user", user),
		slog.Int("channels", len(channels)))
}
