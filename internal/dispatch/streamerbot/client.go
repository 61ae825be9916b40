// Package streamerbot triggers Streamer.bot actions over its WebSocket server.
package streamerbot

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/loqalabs/loqa-subtitler/internal/dispatch"
)

type hello struct {
	Request        string `json:"request"`
	Authentication *struct {
		Salt      string `json:"salt"`
		Challenge string `json:"challenge"`
	} `json:"authentication"`
}

type authenticateRequest struct {
	Request        string `json:"request"`
	ID             string `json:"id"`
	Authentication string `json:"authentication"`
}

type actionRef struct {
	Name string `json:"name"`
}

type doActionRequest struct {
	Request string            `json:"request"`
	ID      string            `json:"id"`
	Action  actionRef         `json:"action"`
	Args    map[string]string `json:"args"`
}

// Client sends DoAction requests. By default every call opens a fresh
// connection (connect, handshake, send, close); in persistent mode one
// connection is reused and re-established once on failure.
type Client struct {
	cfg     config.StreamerbotConfig
	timeout time.Duration
	log     *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	stopReader context.CancelFunc
}

var _ dispatch.Dispatcher = (*Client)(nil)

func New(cfg config.StreamerbotConfig, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("streamerbot: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("streamerbot: url must use ws:// or wss://, got %q", cfg.URL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("streamerbot: url %q has no host", cfg.URL)
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		timeout: timeout,
		log:     log.With(slog.String("component", "streamerbot"), slog.String("url", cfg.URL)),
	}, nil
}

func (c *Client) Dispatch(ctx context.Context, msg dispatch.Message) error {
	return c.DoAction(ctx, msg.Text)
}

// DoAction runs the configured action with text bound to the configured
// argument key.
func (c *Client) DoAction(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Persistent {
		conn, err := c.connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		return c.send(ctx, conn, text)
	}

	if c.conn != nil {
		err := c.send(ctx, c.conn, text)
		if err == nil {
			return nil
		}
		c.log.Debug("persistent connection failed, reconnecting", slog.String("error", err.Error()))
		c.dropLocked()
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	c.adoptLocked(conn)
	if err := c.send(ctx, conn, text); err != nil {
		c.dropLocked()
		return err
	}
	return nil
}

// Close releases a persistent connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.stopReader()
	err := c.conn.Close(websocket.StatusNormalClosure, "shutdown")
	c.conn = nil
	return err
}

// connect dials and completes the Hello/Authenticate exchange.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("streamerbot: dial: %w", err)
	}
	if err := c.handshake(ctx, conn); err != nil {
		conn.CloseNow()
		return nil, err
	}
	return conn, nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("streamerbot: read hello: %w", err)
	}
	var h hello
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("streamerbot: parse hello: %w", err)
	}
	if h.Request != "Hello" || h.Authentication == nil {
		return nil
	}
	if c.cfg.Password == "" {
		c.log.Debug("server requests authentication but no password is configured")
		return nil
	}
	if h.Authentication.Salt == "" || h.Authentication.Challenge == "" {
		return nil
	}

	req := authenticateRequest{
		Request:        "Authenticate",
		ID:             uuid.NewString(),
		Authentication: Authentication(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge),
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return fmt.Errorf("streamerbot: send authenticate: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, text string) error {
	req := doActionRequest{
		Request: "DoAction",
		ID:      uuid.NewString(),
		Action:  actionRef{Name: c.cfg.Action},
		Args:    map[string]string{c.cfg.ArgKey: text},
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return fmt.Errorf("streamerbot: send DoAction: %w", err)
	}
	return nil
}

// adoptLocked keeps conn for reuse and drains whatever the server sends back
// so control frames keep flowing.
func (c *Client) adoptLocked(conn *websocket.Conn) {
	readCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.stopReader = cancel
	go func() {
		for {
			_, data, err := conn.Read(readCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					c.log.Debug("persistent connection reader stopped", slog.String("error", err.Error()))
				}
				return
			}
			c.log.Debug("server message", slog.Int("bytes", len(data)))
		}
	}()
}

func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	c.stopReader()
	c.conn.CloseNow()
	c.conn = nil
}

// Authentication computes the Streamer.bot handshake response:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func Authentication(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
