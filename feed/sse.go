package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSEDialer connects to a Server-Sent-Events feed endpoint.
type SSEDialer struct {
	// URL is the event stream endpoint.
	URL string
	// Client is the HTTP client to dial with. Defaults to http.DefaultClient.
	Client *http.Client
}

// Dial opens the event stream. It returns once response headers arrive
// with status 200.
func (d *SSEDialer) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("sse endpoint returned status %d", resp.StatusCode)
	}

	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// sseStream parses the text/event-stream framing incrementally: data lines
// accumulate until a blank line terminates the event.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func (s *sseStream) Recv() ([]byte, error) {
	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			// Blank line with no pending data: keep reading.
		case strings.HasPrefix(line, ":"):
			// Comment / keepalive.
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:/id:/retry: fields carry nothing for this protocol.
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
