package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseTestServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprint(w, ev)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSSEDialerReceivesEvents(t *testing.T) {
	srv := sseTestServer(t, []string{
		": keepalive\n\n",
		"data: {\"type\":\"connected\",\"id\":\"c1\"}\n\n",
		"event: message\ndata: {\"type\":\"ping\",\"timestamp\":5}\n\n",
	})

	dialer := &SSEDialer{URL: srv.URL}
	stream, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","id":"c1"}`, string(first))

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","timestamp":5}`, string(second))

	// Server closed: the stream reports the break.
	_, err = stream.Recv()
	assert.Error(t, err)
}

func TestSSEDialerMultilineData(t *testing.T) {
	srv := sseTestServer(t, []string{
		"data: {\"type\":\"ping\",\ndata: \"timestamp\":5}\n\n",
	})

	stream, err := (&SSEDialer{URL: srv.URL}).Dial(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	data, err := stream.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","timestamp":5}`, string(data))
}

func TestSSEDialerNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := (&SSEDialer{URL: srv.URL}).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSSEDialerRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&SSEDialer{URL: "http://127.0.0.1:0"}).Dial(ctx)
	assert.Error(t, err)
}
