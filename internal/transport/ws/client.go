// Package ws is the agent side of the world's WebSocket protocol: it dials,
// performs the HELLO handshake, feeds server messages to a Handler and keeps
// reconnecting until its context is cancelled.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"queuequiz.ai/internal/protocol"
)

// ErrNotConnected is returned by Say while no WELCOME has been received on
// the current connection.
var ErrNotConnected = errors.New("ws: not connected")

// Handler receives server messages. All calls happen on the client's read
// goroutine, in arrival order.
type Handler interface {
	// OnWelcome is called once per connection; server is the dialed host.
	OnWelcome(w protocol.WelcomeMsg, server string)
	OnCatalog(c protocol.CatalogMsg)
	OnObs(obs *protocol.ObsMsg)
	// OnLost follows every OnWelcome when the connection goes away.
	OnLost(err error)
}

type Config struct {
	URL       string
	AgentName string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

func (c *Config) defaults() {
	if c.AgentName == "" {
		c.AgentName = "queuebot"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 30 * time.Second
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
}

type Client struct {
	cfg    Config
	h      Handler
	log    *log.Logger
	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	agentID     string
	resumeToken string

	tick atomic.Uint64
	seq  atomic.Uint64
}

func NewClient(cfg Config, h Handler, logger *log.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		cfg: cfg,
		h:   h,
		log: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
	}
}

// Run connects and serves until ctx is cancelled, reconnecting with capped
// exponential backoff. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		welcomed, err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if welcomed {
			backoff = c.cfg.MinBackoff
		}
		c.log.Printf("connection ended: %v (retry in %s)", err, backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// Say sends one chat line as an ACT with a single SAY instant.
func (c *Client) Say(channel, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.agentID == "" {
		return ErrNotConnected
	}
	tick := c.tick.Load()
	id := fmt.Sprintf("%s%d_%d", protocol.SayIDPrefix, tick, c.seq.Add(1))
	act := protocol.NewSay(c.agentID, tick, id, channel, text)
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(act)
}

// AgentID is the id from the last WELCOME ("" before the first one).
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

func (c *Client) serve(ctx context.Context) (welcomed bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	c.mu.Lock()
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       c.cfg.AgentName,
		Capabilities: protocol.HelloCapabilities{
			DeltaVoxels: true,
			MaxQueue:    8,
		},
	}
	if c.resumeToken != "" {
		hello.Auth = &protocol.HelloAuth{Token: c.resumeToken}
	}
	c.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		return false, fmt.Errorf("send HELLO: %w", err)
	}

	server := hostOf(c.cfg.URL)
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.agentID = ""
		c.mu.Unlock()
		if welcomed {
			c.h.OnLost(err)
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, msg, rerr := conn.ReadMessage()
		if rerr != nil {
			return welcomed, rerr
		}
		base, derr := protocol.DecodeBase(msg)
		if derr != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				c.log.Printf("bad WELCOME: %v", err)
				continue
			}
			if w.ProtocolVersion != "" && w.ProtocolVersion != protocol.Version {
				return welcomed, fmt.Errorf("protocol_version %q, want %q", w.ProtocolVersion, protocol.Version)
			}
			c.mu.Lock()
			c.conn = conn
			c.agentID = w.AgentID
			if w.ResumeToken != "" {
				c.resumeToken = w.ResumeToken
			}
			c.mu.Unlock()
			if welcomed {
				// Treat a repeated WELCOME as a fresh join.
				c.h.OnLost(nil)
			}
			welcomed = true
			c.log.Printf("WELCOME agent_id=%s tick_rate=%d world=%s", w.AgentID, w.WorldParams.TickRateHz, w.CurrentWorldID)
			c.h.OnWelcome(w, server)

		case protocol.TypeCatalog:
			var cat protocol.CatalogMsg
			if err := json.Unmarshal(msg, &cat); err != nil {
				c.log.Printf("bad CATALOG: %v", err)
				continue
			}
			c.h.OnCatalog(cat)

		case protocol.TypeObs:
			if !welcomed {
				continue
			}
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				c.log.Printf("bad OBS: %v", err)
				continue
			}
			c.tick.Store(obs.Tick)
			c.h.OnObs(&obs)
		}
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	return u.Host
}
