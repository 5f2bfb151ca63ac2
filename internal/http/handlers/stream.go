package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tvgate/tvgate/internal/auth"
	"github.com/tvgate/tvgate/internal/observability"
	"github.com/tvgate/tvgate/internal/registry"
	"github.com/tvgate/tvgate/internal/relay"
	"github.com/tvgate/tvgate/internal/session"
)

// StreamHandler authenticates channel requests and hands them to the
// user's relay for the channel.
type StreamHandler struct {
	registry      *registry.Registry
	auth          *auth.Authenticator
	sessions      *session.Table
	client        *http.Client
	forwardHeader string
	logger        *slog.Logger
}

// NewStreamHandler creates a stream handler. client is the shared
// upstream streaming client; forwardHeader names the proxy-chain
// identity header, read from incoming requests and written to chained
// providers.
func NewStreamHandler(reg *registry.Registry, authn *auth.Authenticator, sessions *session.Table, client *http.Client, forwardHeader string, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		registry:      reg,
		auth:          authn,
		sessions:      sessions,
		client:        client,
		forwardHeader: forwardHeader,
		logger:        observability.WithComponent(logger, "stream"),
	}
}

// ServeStream handles GET /{channelID}/*, covering both the channel
// manifest and its media segments. Every failure mode answers 404.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	subpath := chi.URLParam(r, "*")

	ch := h.registry.Lookup(channelID)
	if ch == nil {
		NotFound(w)
		return
	}

	token := r.URL.Query().Get("t")
	if token == "" {
		NotFound(w)
		return
	}
	user, err := h.auth.Verify(token)
	if err != nil {
		h.logger.Warn("invalid stream token", slog.String("channel", ch.Name()))
		NotFound(w)
		return
	}

	// A fronting instance of this proxy forwards its own sub-user
	// identity; appending it forks the verified user into per-sub-user
	// sessions, keeping chained viewers isolated from each other.
	if forwarded := r.Header.Get(h.forwardHeader); forwarded != "" {
		user = user + ":" + forwarded
	}

	// The session lock covers relay resolution only. Streaming runs
	// after it is released so one long-lived exchange cannot starve the
	// user's other requests.
	var rel *relay.Relay
	_ = h.sessions.WithSession(user, func(s *session.Session) error {
		rel = s.ResolveRelay(ch.ID(), func() *relay.Relay {
			return relay.New(user, ch.Name(), ch.NextSource(), h.client, h.forwardHeader, h.logger)
		})
		return nil
	})

	rel.Serve(w, r, subpath)
}
