package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvgate/tvgate/internal/config"
	"github.com/tvgate/tvgate/internal/httpclient"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="one",Channel One
http://upstream.example/one.m3u8
#EXTINF:-1 tvg-id="two",Channel Two
#EXTGRP:News
http://upstream.example/two.m3u8
`

func newTestSource(t *testing.T, url string, forwardUser bool) *Source {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	return New(config.SourceConfig{Name: "test", URL: url, ForwardUser: forwardUser}, httpclient.New(cfg), nil)
}

func TestFetchPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePlaylist))
	}))
	defer server.Close()

	src := newTestSource(t, server.URL, false)
	entries, err := src.FetchPlaylist(context.Background())
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "Channel One", entries[0].Name)
	assert.Equal(t, "http://upstream.example/one.m3u8", entries[0].URL)
	assert.Equal(t, "Channel Two", entries[1].Name)
	assert.Len(t, entries[1].Tags, 2)
}

func TestFetchPlaylistGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(samplePlaylist))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	src := newTestSource(t, server.URL, false)
	entries, err := src.FetchPlaylist(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFetchPlaylistUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src := newTestSource(t, server.URL, false)
	_, err := src.FetchPlaylist(context.Background())
	assert.Error(t, err)
}

func TestFetchPlaylistSkipsMalformedLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\nhttp://upstream.example/orphan.m3u8\n#EXTINF:-1,Good\nhttp://upstream.example/good.m3u8\n"))
	}))
	defer server.Close()

	src := newTestSource(t, server.URL, false)
	entries, err := src.FetchPlaylist(context.Background())
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "Good", entries[0].Name)
}

func TestSanitizedURL(t *testing.T) {
	src := newTestSource(t, "http://host.example/list.m3u?username=alice&password=pw", false)
	sanitized := src.SanitizedURL()

	assert.NotContains(t, sanitized, "alice")
	assert.NotContains(t, sanitized, "pw")
	assert.Contains(t, sanitized, "%2A%2A%2A")
}
