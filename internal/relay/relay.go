// Package relay streams one upstream channel to one client, preserving
// the upstream bytes verbatim.
//
// A Relay is the long-lived binding between a user session and one
// provider's stream. Each client exchange through it runs its own pump:
// an unbounded chunk queue drained toward the client by whichever
// producer wins an atomic busy flag, so upstream reads are never blocked
// by a slow client write and no chunk is lost between a drain winding
// down and a new push.
package relay

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tvgate/tvgate/internal/observability"
	"github.com/tvgate/tvgate/internal/registry"
)

// hop-by-hop headers never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NewStreamClient builds the HTTP client used for upstream stream
// requests. It bounds connection setup and response headers but has no
// overall timeout: live streams run indefinitely.
func NewStreamClient(connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: connectTimeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: nil, // follow redirects, some providers bounce streams
	}
}

// Relay binds one user to one provider stream of a channel. It is
// created inside the session lock, reused for every request the user
// makes against that channel, and safe for concurrent exchanges.
type Relay struct {
	user          string
	channelName   string
	cs            *registry.ChannelSource
	client        *http.Client
	forwardHeader string
	logger        *slog.Logger
}

// New creates a relay for the user bound to the given provider stream.
// forwardHeader is the header carrying the user identity to providers
// that are themselves chained proxies.
func New(user, channelName string, cs *registry.ChannelSource, client *http.Client, forwardHeader string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		user:          user,
		channelName:   channelName,
		cs:            cs,
		client:        client,
		forwardHeader: forwardHeader,
		logger: observability.WithComponent(logger, "relay").With(
			slog.String("user", user),
			slog.String("channel", channelName),
			slog.String("source", cs.Provider().Name())),
	}
}

// Source returns the provider stream this relay is bound to.
func (r *Relay) Source() *registry.ChannelSource { return r.cs }

// Serve relays one client exchange: it resolves the requested subpath
// against the upstream stream URL, issues the upstream request, mirrors
// the upstream status and headers, and pumps the body to the client
// until either side finishes. The upstream request is cancelled when
// the client disconnects.
func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, subpath string) {
	rid := ulid.Make().String()
	logger := r.logger.With(slog.String("rid", rid))

	target, err := r.cs.ResolveSubpath(subpath)
	if err != nil {
		logger.Warn("bad stream subpath", slog.String("subpath", subpath), slog.String("error", err.Error()))
		http.NotFound(w, req)
		return
	}
	target = mergeQuery(target, req)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	upReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		logger.Warn("building upstream request failed", slog.String("error", err.Error()))
		http.NotFound(w, req)
		return
	}
	copyHeaders(upReq.Header, req.Header)
	if r.cs.Provider().ForwardUser() {
		upReq.Header.Set(r.forwardHeader, r.user)
	}

	start := time.Now()
	resp, err := r.client.Do(upReq)
	if err != nil {
		logger.Warn("upstream request failed", slog.String("error", err.Error()))
		http.NotFound(w, req)
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	p := newPump(w, cancel, logger)
	p.subscribe(resp.Body)
	sent := p.wait()

	logger.Debug("exchange finished",
		slog.String("subpath", subpath),
		slog.Int("status", resp.StatusCode),
		slog.Int64("bytes", sent),
		slog.Duration("took", time.Since(start)))
}

// mergeQuery appends the client's query parameters to the target URL,
// dropping the proxy's own token parameter.
func mergeQuery(target string, req *http.Request) string {
	q := req.URL.Query()
	q.Del("t")
	if len(q) == 0 {
		return target
	}
	sep := "?"
	if containsQuery(target) {
		sep = "&"
	}
	return target + sep + q.Encode()
}

func containsQuery(u string) bool {
	for i := 0; i < len(u); i++ {
		if u[i] == '?' {
			return true
		}
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Host")
}
