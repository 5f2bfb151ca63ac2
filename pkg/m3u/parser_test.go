package m3u

import (
	"bytes"
	"compress/gzip"
	"errors"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

func collect(t *testing.T, content string) ([]*Entry, []int) {
	t.Helper()

	var entries []*Entry
	var badLines []int
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
		OnError: func(lineNum int, err error) {
			badLines = append(badLines, lineNum)
		},
	}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return entries, badLines
}

func TestParser_BasicParsing(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="news" group-title="News",News HD
http://example.com/news.ts
#EXTINF:-1,Sports
http://example.com/sports.ts
`

	entries, bad := collect(t, content)
	if len(bad) != 0 {
		t.Fatalf("unexpected parse errors at lines %v", bad)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	e1 := entries[0]
	if e1.Name != "News HD" {
		t.Errorf("expected name 'News HD', got %q", e1.Name)
	}
	if e1.URL != "http://example.com/news.ts" {
		t.Errorf("unexpected URL %q", e1.URL)
	}
	if len(e1.Tags) != 1 || e1.Tags[0] != `#EXTINF:-1 tvg-id="news" group-title="News",News HD` {
		t.Errorf("directive line not preserved verbatim: %v", e1.Tags)
	}

	if entries[1].Name != "Sports" {
		t.Errorf("expected name 'Sports', got %q", entries[1].Name)
	}
}

func TestParser_MultipleDirectiveLines(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1,Movies
#EXTGRP:Cinema
#EXTVLCOPT:http-user-agent=Box
http://example.com/movies.ts
`

	entries, _ := collect(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if len(e.Tags) != 3 {
		t.Fatalf("expected 3 directive lines, got %d", len(e.Tags))
	}
	// The name comes from the last comma-bearing directive.
	if e.Name != "Movies" {
		t.Errorf("expected name 'Movies', got %q", e.Name)
	}
}

func TestParser_NameFromLastComma(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-name="a,b",Late, Night Show
http://example.com/late.ts
`

	entries, _ := collect(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Name != " Night Show" {
		t.Errorf("expected name from last comma, got %q", entries[0].Name)
	}
}

func TestParser_MalformedEntrySkipped(t *testing.T) {
	content := `#EXTM3U
http://example.com/orphan.ts
#EXTINF:-1,Valid
http://example.com/valid.ts
`

	entries, bad := collect(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Name != "Valid" {
		t.Errorf("expected surviving entry 'Valid', got %q", entries[0].Name)
	}
	if len(bad) != 1 || bad[0] != 2 {
		t.Errorf("expected parse error at line 2, got %v", bad)
	}
}

func TestParser_NameDoesNotLeakAcrossEntries(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1,First
http://example.com/first.ts
http://example.com/second.ts
`

	entries, bad := collect(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if len(bad) != 1 {
		t.Errorf("second URL should be malformed, got errors %v", bad)
	}
}

func TestParser_RequiresOnEntry(t *testing.T) {
	p := &Parser{}
	if err := p.Parse(strings.NewReader("#EXTM3U\n")); err == nil {
		t.Fatal("expected error when OnEntry is nil")
	}
}

func TestParser_CallbackErrorStopsParse(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1,A
http://example.com/a.ts
`
	p := &Parser{
		OnEntry: func(*Entry) error {
			return errors.New("stop")
		},
	}
	if err := p.Parse(strings.NewReader(content)); err == nil {
		t.Fatal("expected callback error to propagate")
	}
}

const compressibleContent = `#EXTM3U
#EXTINF:-1,Compressed Channel
http://example.com/stream.ts
`

func parseCompressed(t *testing.T, data []byte) []*Entry {
	t.Helper()

	var entries []*Entry
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
	}
	if err := p.ParseCompressed(bytes.NewReader(data)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return entries
}

func TestParseCompressed_Plain(t *testing.T) {
	entries := parseCompressed(t, []byte(compressibleContent))
	if len(entries) != 1 || entries[0].Name != "Compressed Channel" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestParseCompressed_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(compressibleContent)); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}

	entries := parseCompressed(t, buf.Bytes())
	if len(entries) != 1 || entries[0].Name != "Compressed Channel" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestParseCompressed_Bzip2(t *testing.T) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: 9})
	if err != nil {
		t.Fatalf("creating bzip2 writer: %v", err)
	}
	if _, err := bw.Write([]byte(compressibleContent)); err != nil {
		t.Fatalf("writing bzip2: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("closing bzip2: %v", err)
	}

	entries := parseCompressed(t, buf.Bytes())
	if len(entries) != 1 || entries[0].Name != "Compressed Channel" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestParseCompressed_XZ(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("creating xz writer: %v", err)
	}
	if _, err := xw.Write([]byte(compressibleContent)); err != nil {
		t.Fatalf("writing xz: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("closing xz: %v", err)
	}

	entries := parseCompressed(t, buf.Bytes())
	if len(entries) != 1 || entries[0].Name != "Compressed Channel" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}
