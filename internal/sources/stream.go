package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ErrAuthentication marks a connection failure that will not heal by
// retrying: the source requires external reconfiguration.
var ErrAuthentication = errors.New("source authentication failed")

// TriggerMessage is the wire format of one inbound trigger
type TriggerMessage struct {
	Category  string    `json:"category"`
	SourceID  string    `json:"source_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamConn is one live trigger stream
type StreamConn interface {
	ReadTrigger() (*TriggerMessage, error)
	Close() error
}

// Dialer opens a trigger stream to a source endpoint
type Dialer interface {
	Dial(ctx context.Context, streamURL string) (StreamConn, error)
}

// wsDialer dials sources over websocket
type wsDialer struct {
	dialer *websocket.Dialer
}

func newWSDialer() *wsDialer {
	return &wsDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial opens the stream. A 401/403 handshake response is classified as
// an authentication failure, which the manager treats as fatal.
func (d *wsDialer) Dial(ctx context.Context, streamURL string) (StreamConn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: status %d: %w", streamURL, resp.StatusCode, ErrAuthentication)
		}
		return nil, fmt.Errorf("dial %s: %w", streamURL, err)
	}
	return &wsStreamConn{conn: conn}, nil
}

// wsStreamConn wraps a websocket connection as a trigger stream
type wsStreamConn struct {
	conn *websocket.Conn
}

// ReadTrigger blocks until the next trigger message arrives
func (c *wsStreamConn) ReadTrigger() (*TriggerMessage, error) {
	var msg TriggerMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Close sends a close frame and tears the connection down
func (c *wsStreamConn) Close() error {
	c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return c.conn.Close()
}
