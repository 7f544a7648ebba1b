// Package socket opens the backend's push channel.
package socket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/internal/metrics"
	"github.com/macworp/macworp-client/pkg/protocol"
	"go.uber.org/zap"
)

// DefaultPath is the socket.io websocket transport endpoint.
const DefaultPath = "/socket.io/?EIO=4&transport=websocket"

// Config describes where and how to connect.
type Config struct {
	// URL is the backend websocket base URL. http and https are mapped to
	// ws and wss.
	URL string
	// Path is appended to URL, DefaultPath if empty. It may carry a query.
	Path               string
	Token              string
	HandshakeTimeout   time.Duration
	InsecureSkipVerify bool
}

// Message is one frame received from the backend.
type Message struct {
	Type int
	Data []byte
}

// Conn is an open socket.
type Conn struct {
	ws *websocket.Conn

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Endpoint returns the websocket URL for cfg.
func Endpoint(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}

	p := cfg.Path
	if p == "" {
		p = DefaultPath
	}
	path, query, _ := strings.Cut(p, "?")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query
	return u.String(), nil
}

// Dial connects to the backend. The session token, if any, is sent in the
// access token header of the handshake.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	endpoint, err := Endpoint(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := make(http.Header)
	if cfg.Token != "" {
		header.Set(protocol.AccessTokenHeader, cfg.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("connect %s: handshake answered %s: %w", endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}

	metrics.SocketOpened()
	logging.WithContext(ctx).Debug("socket connected", zap.String("url", endpoint))
	return &Conn{ws: ws}, nil
}

// Messages streams received frames until the connection fails, the peer
// closes it or ctx is done. The channel is closed afterwards and Err
// reports why. Call it once per connection.
func (c *Conn) Messages(ctx context.Context) <-chan Message {
	out := make(chan Message, 16)

	stop := context.AfterFunc(ctx, func() { c.Close() })

	go func() {
		defer close(out)
		defer stop()
		for {
			typ, data, err := c.ws.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					c.setErr(ctx.Err())
				} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(nil)
				} else {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						logging.Warn("socket read error", zap.Error(err))
					}
					c.setErr(err)
				}
				return
			}
			select {
			case out <- Message{Type: typ, Data: data}:
			case <-ctx.Done():
				c.setErr(ctx.Err())
				return
			}
		}
	}()
	return out
}

// Send writes a text frame.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Err returns the reason Messages stopped. It is nil for an orderly close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Close sends a close frame and releases the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			logging.Debug("socket close frame not sent", zap.Error(werr))
		}
		err = c.ws.Close()
		metrics.SocketClosed()
	})
	return err
}
