package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tvgate/tvgate/internal/registry"
	"github.com/tvgate/tvgate/internal/session"
	"github.com/tvgate/tvgate/internal/version"
)

// StatusHandler serves the operational API: health, source refresh
// state, live sessions, and the catalog summary.
type StatusHandler struct {
	registry  *registry.Registry
	sessions  *session.Table
	startTime time.Time
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(reg *registry.Registry, sessions *session.Table) *StatusHandler {
	return &StatusHandler{
		registry:  reg,
		sessions:  sessions,
		startTime: time.Now(),
	}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status     string    `json:"status" example:"ok"`
	Version    string    `json:"version" example:"1.0.0"`
	Uptime     string    `json:"uptime" example:"1h2m3s"`
	Channels   int       `json:"channels"`
	Generation uint64    `json:"generation" doc:"Number of successful catalog refreshes"`
	CatalogAt  time.Time `json:"catalog_at,omitzero" doc:"When the serving catalog was built"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// SourcesOutput is the output for the sources endpoint.
type SourcesOutput struct {
	Body struct {
		Sources []registry.SourceStatus `json:"sources"`
	}
}

// SessionsOutput is the output for the sessions endpoint.
type SessionsOutput struct {
	Body struct {
		Sessions []session.Info `json:"sessions"`
	}
}

// ChannelSummary is one catalog row in the channels endpoint.
type ChannelSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Sources int    `json:"sources" doc:"Number of providers offering this channel"`
}

// ChannelsOutput is the output for the channels endpoint.
type ChannelsOutput struct {
	Body struct {
		Channels []ChannelSummary `json:"channels"`
	}
}

// Register registers the status routes with the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "listSources",
		Method:      "GET",
		Path:        "/sources",
		Summary:     "Upstream source refresh state",
		Tags:        []string{"Catalog"},
	}, h.ListSources)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/sessions",
		Summary:     "Active user sessions",
		Tags:        []string{"Sessions"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/channels",
		Summary:     "Aggregated channel catalog",
		Tags:        []string{"Catalog"},
	}, h.ListChannels)
}

// GetHealth returns service health and catalog freshness.
func (h *StatusHandler) GetHealth(ctx context.Context, input *struct{}) (*HealthOutput, error) {
	return &HealthOutput{
		Body: HealthResponse{
			Status:     "ok",
			Version:    version.Version,
			Uptime:     time.Since(h.startTime).Round(time.Second).String(),
			Channels:   len(h.registry.Channels()),
			Generation: h.registry.Generation(),
			CatalogAt:  h.registry.BuiltAt(),
		},
	}, nil
}

// ListSources returns per-provider fetch outcomes.
func (h *StatusHandler) ListSources(ctx context.Context, input *struct{}) (*SourcesOutput, error) {
	out := &SourcesOutput{}
	out.Body.Sources = h.registry.SourceStatuses()
	return out, nil
}

// ListSessions returns active sessions with their relay counts.
func (h *StatusHandler) ListSessions(ctx context.Context, input *struct{}) (*SessionsOutput, error) {
	out := &SessionsOutput{}
	out.Body.Sessions = h.sessions.Snapshot()
	return out, nil
}

// ListChannels returns the catalog summary ordered by display name.
func (h *StatusHandler) ListChannels(ctx context.Context, input *struct{}) (*ChannelsOutput, error) {
	channels := h.registry.Channels()
	out := &ChannelsOutput{}
	out.Body.Channels = make([]ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		out.Body.Channels = append(out.Body.Channels, ChannelSummary{
			ID:      ch.ID(),
			Name:    ch.Name(),
			Sources: len(ch.Sources()),
		})
	}
	return out, nil
}
