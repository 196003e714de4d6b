package feed

import (
	"context"

	"github.com/gorilla/websocket"
)

// WSDialer connects to a WebSocket feed endpoint.
type WSDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Dialer overrides the websocket dialer. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial opens the websocket connection.
func (d *WSDialer) Dial(ctx context.Context) (Stream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Recv() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
