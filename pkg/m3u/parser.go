// Package m3u provides streaming M3U playlist parsing and writing.
//
// The parser preserves channel metadata verbatim: every `#` directive line
// preceding a stream URL is kept untouched so a proxy can replay it in an
// aggregated playlist without reformatting.
package m3u

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/ulikunitz/xz"
)

// Entry represents a single channel entry in an M3U playlist.
type Entry struct {
	// Name is the display name, taken from the text after the last comma
	// of the most recent directive line that carried one (EXTINF style).
	Name string

	// Tags holds the raw directive lines preceding the URL, in order and
	// verbatim (e.g. #EXTINF, #EXTGRP, #EXTVLCOPT lines).
	Tags []string

	// URL is the stream URL line.
	URL string
}

// Parser provides streaming M3U parsing with callback-based processing.
type Parser struct {
	// OnEntry is called for each parsed entry.
	OnEntry func(entry *Entry) error

	// OnError is called for recoverable parsing errors such as a stream
	// URL with no preceding name. If nil, such lines are silently skipped.
	OnError func(lineNum int, err error)
}

// Parse parses an M3U playlist from a reader, calling OnEntry for each channel.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnEntry == nil {
		return fmt.Errorf("OnEntry callback is required")
	}

	scanner := bufio.NewScanner(r)
	// Some playlists carry very long URL or directive lines.
	const maxLineSize = 1024 * 1024
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	var name string
	var tags []string
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		// Format marker carries no channel data.
		if strings.HasPrefix(line, "#EXTM3U") {
			continue
		}

		if strings.HasPrefix(line, "#") {
			tags = append(tags, line)
			if idx := strings.LastIndexByte(line, ','); idx >= 0 {
				name = line[idx+1:]
			}
			continue
		}

		// Stream URL line.
		if name == "" {
			p.handleError(lineNum, fmt.Errorf("stream URL without a preceding name: %s", line))
		} else {
			entry := &Entry{
				Name: name,
				Tags: tags,
				URL:  line,
			}
			if err := p.OnEntry(entry); err != nil {
				return fmt.Errorf("callback error at line %d: %w", lineNum, err)
			}
		}

		name = ""
		tags = nil
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning M3U: %w", err)
	}

	return nil
}

// ParseCompressed parses a potentially compressed M3U playlist.
// It auto-detects compression based on magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		// Gzip
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		// Bzip2
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		// XZ
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// handleError calls the OnError callback if set.
func (p *Parser) handleError(lineNum int, err error) {
	if p.OnError != nil {
		p.OnError(lineNum, err)
	}
}
