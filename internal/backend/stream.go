// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// MaxChunkSize is the maximum allowed size for a single event or line (64KB).
	MaxChunkSize = 64 * 1024

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 16 * 1024

	userAgent = "manthan/0.1.0"
)

// sharedStreamingClient is used for all streams. There is no client timeout;
// deadlines come from the context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// REQUEST
// =============================================================================

// postStream waits for the provider limiter, posts payload as JSON and
// returns the open response. Non-200 responses are classified and closed.
func postStream(ctx context.Context, opts Options, provider, url string, headers map[string]string, payload any) (*http.Response, error) {
	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return nil, &BackendError{Provider: provider, Kind: KindRateLimited, Message: "throttled", Err: err}
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := opts.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &BackendError{Provider: provider, Kind: KindUnavailable, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(provider, resp.StatusCode, data)
	}
	return resp, nil
}

// =============================================================================
// STREAM
// =============================================================================

// decodeFunc reads the next piece of a wire stream. It returns the text
// delta (possibly empty), io.EOF at the natural end, or an error.
type decodeFunc func() (string, error)

// httpStream adapts a wire decoder to the Stream interface.
type httpStream struct {
	body   io.ReadCloser
	decode decodeFunc
	// onDone runs once with the full text when the stream ends normally.
	onDone func(string)

	acc  strings.Builder
	done bool

	closeOnce sync.Once
}

func newHTTPStream(body io.ReadCloser, decode decodeFunc, onDone func(string)) *httpStream {
	return &httpStream{body: body, decode: decode, onDone: onDone}
}

func (s *httpStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		delta, err := s.decode()
		if delta != "" {
			s.acc.WriteString(delta)
			if err == nil || errors.Is(err, io.EOF) {
				// Deliver the delta now; the next call reports EOF.
				if errors.Is(err, io.EOF) {
					s.finish()
				}
				return delta, nil
			}
		}
		if errors.Is(err, io.EOF) {
			s.finish()
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			return "", err
		}
	}
}

func (s *httpStream) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.onDone != nil {
		s.onDone(s.acc.String())
	}
}

func (s *httpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReaderSize(r, 4096),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error; io.EOF when the stream ends.
// Multi-line data fields are joined with newlines.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			if err == io.EOF && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		size += len(line)
		if size > MaxChunkSize {
			return "", nil, fmt.Errorf("event exceeds %d bytes", MaxChunkSize)
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			size = 0
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimPrefix(line[5:], []byte(" ")))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// =============================================================================
// NDJSON READER
// =============================================================================

// lineReader yields non-empty lines of a newline-delimited JSON stream.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxChunkSize)
	return &lineReader{scanner: sc}
}

func (l *lineReader) next() ([]byte, error) {
	for l.scanner.Scan() {
		line := bytes.TrimSpace(l.scanner.Bytes())
		if len(line) > 0 {
			return line, nil
		}
	}
	if err := l.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
