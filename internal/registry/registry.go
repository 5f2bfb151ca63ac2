// Package registry maintains the aggregated channel catalog built from
// all configured upstream sources.
//
// The catalog is an immutable snapshot swapped atomically on refresh, so
// readers never block and a failed refresh leaves the previous catalog
// serving. Channel identity is a digest of the display name, which keeps
// IDs stable across refreshes and deduplicates channels offered by more
// than one provider.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tvgate/tvgate/internal/config"
	"github.com/tvgate/tvgate/internal/observability"
	"github.com/tvgate/tvgate/internal/source"
	"github.com/tvgate/tvgate/pkg/digest"
	"github.com/tvgate/tvgate/pkg/m3u"
)

// ChannelSource is one provider's stream for a channel. Instances are
// reused across refreshes when the same upstream URL reappears, so
// active relays keep a valid handle through catalog swaps.
type ChannelSource struct {
	provider *source.Source
	url      string
}

// Provider returns the source this stream belongs to.
func (cs *ChannelSource) Provider() *source.Source { return cs.provider }

// StreamURL returns the upstream stream URL.
func (cs *ChannelSource) StreamURL() string { return cs.url }

// ResolveSubpath maps a client-requested subpath to an upstream URL.
// The canonical playlist name resolves to the stream URL itself; any
// other subpath (media segments, variant playlists) resolves relative
// to the stream URL, preserving its query string.
func (cs *ChannelSource) ResolveSubpath(subpath string) (string, error) {
	if subpath == "" || subpath == "channel.m3u8" {
		return cs.url, nil
	}
	base, err := url.Parse(cs.url)
	if err != nil {
		return "", fmt.Errorf("parsing stream url: %w", err)
	}
	ref, err := url.Parse(subpath)
	if err != nil {
		return "", fmt.Errorf("parsing subpath: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Channel is one deduplicated catalog entry. A channel offered by
// several providers carries one ChannelSource per provider.
type Channel struct {
	id   string
	name string
	tags []string

	sources []*ChannelSource
	next    atomic.Uint64
}

// ID returns the stable channel identifier.
func (c *Channel) ID() string { return c.id }

// Name returns the display name.
func (c *Channel) Name() string { return c.name }

// Tags returns the raw playlist directive lines for this channel, from
// the first provider that listed it.
func (c *Channel) Tags() []string { return c.tags }

// Sources returns the providers offering this channel.
func (c *Channel) Sources() []*ChannelSource { return c.sources }

// NextSource picks a provider stream for a new viewing session,
// rotating across providers to spread load.
func (c *Channel) NextSource() *ChannelSource {
	n := c.next.Add(1)
	return c.sources[(n-1)%uint64(len(c.sources))]
}

// catalog is one immutable generation of the channel table.
type catalog struct {
	channels map[string]*Channel
	sorted   []*Channel
	builtAt  time.Time
}

func emptyCatalog() *catalog {
	return &catalog{channels: map[string]*Channel{}, builtAt: time.Time{}}
}

// SourceStatus describes the outcome of the most recent fetch from one
// provider.
type SourceStatus struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Channels  int       `json:"channels"`
	LastFetch time.Time `json:"last_fetch,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Registry owns the catalog and its refresh lifecycle.
type Registry struct {
	sources []*source.Source
	cfg     config.RefreshConfig
	logger  *slog.Logger

	snapshot atomic.Pointer[catalog]

	// refreshMu serializes refreshes from the adaptive loop, the cron
	// schedule, and manual triggers. byURL and status are only touched
	// while it is held.
	refreshMu sync.Mutex
	byURL     map[string]*ChannelSource
	status    map[string]*SourceStatus

	generation atomic.Uint64
}

// New creates a Registry over the given sources. The catalog starts
// empty until the first successful Refresh.
func New(sources []*source.Source, cfg config.RefreshConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sources: sources,
		cfg:     cfg,
		logger:  observability.WithComponent(logger, "registry"),
		byURL:   make(map[string]*ChannelSource),
		status:  make(map[string]*SourceStatus),
	}
	r.snapshot.Store(emptyCatalog())
	for _, src := range sources {
		r.status[src.Name()] = &SourceStatus{Name: src.Name(), URL: src.SanitizedURL()}
	}
	return r
}

// Lookup returns the channel with the given ID, or nil.
func (r *Registry) Lookup(id string) *Channel {
	return r.snapshot.Load().channels[id]
}

// Channels returns all channels ordered by display name.
func (r *Registry) Channels() []*Channel {
	return r.snapshot.Load().sorted
}

// Generation returns how many successful refreshes have completed.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// BuiltAt returns when the current catalog was built. Zero until the
// first successful refresh.
func (r *Registry) BuiltAt() time.Time {
	return r.snapshot.Load().builtAt
}

// SourceStatuses returns the latest per-provider fetch outcomes.
func (r *Registry) SourceStatuses() []SourceStatus {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	out := make([]SourceStatus, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, *r.status[src.Name()])
	}
	return out
}

// Refresh rebuilds the catalog from every source. It is all-or-nothing:
// if any source fails, the previous catalog keeps serving and the error
// is returned. ChannelSource instances are carried over for upstream
// URLs that persist between generations.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	start := time.Now()

	type fetched struct {
		src     *source.Source
		entries []m3u.Entry
	}
	results := make([]fetched, 0, len(r.sources))

	for _, src := range r.sources {
		entries, err := src.FetchPlaylist(ctx)
		st := r.status[src.Name()]
		st.LastFetch = time.Now()
		if err != nil {
			st.LastError = err.Error()
			r.logger.Error("source fetch failed, keeping previous catalog",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()))
			return fmt.Errorf("refreshing source %s: %w", src.Name(), err)
		}
		st.LastError = ""
		st.Channels = len(entries)
		results = append(results, fetched{src: src, entries: entries})
	}

	next := &catalog{channels: make(map[string]*Channel), builtAt: time.Now()}
	nextByURL := make(map[string]*ChannelSource)

	for _, res := range results {
		for i := range res.entries {
			entry := &res.entries[i]
			id := digest.Channel(entry.Name)

			ch := next.channels[id]
			if ch == nil {
				ch = &Channel{id: id, name: entry.Name, tags: entry.Tags}
				next.channels[id] = ch
			}

			key := res.src.Name() + "\x00" + entry.URL
			cs := r.byURL[key]
			if cs == nil {
				cs = &ChannelSource{provider: res.src, url: entry.URL}
			}
			nextByURL[key] = cs
			ch.sources = append(ch.sources, cs)
		}
	}

	next.sorted = make([]*Channel, 0, len(next.channels))
	for _, ch := range next.channels {
		next.sorted = append(next.sorted, ch)
	}
	sort.Slice(next.sorted, func(i, j int) bool {
		return next.sorted[i].name < next.sorted[j].name
	})

	r.byURL = nextByURL
	r.snapshot.Store(next)
	gen := r.generation.Add(1)

	r.logger.Info("catalog refreshed",
		slog.Uint64("generation", gen),
		slog.Int("channels", len(next.sorted)),
		slog.Int("sources", len(r.sources)),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Run drives periodic refreshes until ctx is cancelled. The first
// refresh runs after the configured startup delay; each subsequent
// attempt is scheduled after the success interval, or the (shorter)
// retry interval when the last attempt failed. An optional cron
// schedule forces extra refreshes on fixed times of day.
func (r *Registry) Run(ctx context.Context) {
	var c *cron.Cron
	if r.cfg.Cron != "" {
		c = cron.New()
		if _, err := c.AddFunc(r.cfg.Cron, func() {
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("scheduled refresh failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			r.logger.Error("invalid cron schedule, ignoring",
				slog.String("schedule", r.cfg.Cron),
				slog.String("error", err.Error()))
		} else {
			c.Start()
			defer c.Stop()
		}
	}

	delay := r.cfg.StartupDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := r.Refresh(ctx); err != nil {
			delay = r.cfg.RetryInterval
		} else {
			delay = r.cfg.SuccessInterval
		}
		timer.Reset(delay)
	}
}
