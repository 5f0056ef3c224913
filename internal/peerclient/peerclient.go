// Package peerclient implements the HTTP and WebSocket client side of
// the peer protocol consumed by this node — spec.md §6's "Peer HTTP
// API — consumed" and "Peer stream — consumed".
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"loadsharing/internal/groupconfig"
	"loadsharing/internal/peertypes"
)

// Client talks to one peer daemon over HTTP and WebSocket.
type Client struct {
	host string
	http *http.Client
	dial websocket.Dialer
}

// New creates a client for host (DNS name or IP, no scheme).
func New(host string) *Client {
	return &Client{
		host: host,
		http: &http.Client{
			Timeout: 10 * time.Second, // read bound, spec.md §5
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext, // connect bound
			},
		},
		dial: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second, // spec.md §5 "Stream connects: 10s handshake"
		},
	}
}

func (c *Client) url(path string) string {
	return "http://" + c.host + path
}

// GetStatus performs GET /status (spec.md §6).
func (c *Client) GetStatus(ctx context.Context) (peertypes.Status, error) {
	var st peertypes.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/status"), nil)
	if err != nil {
		return st, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("peer %s: GET /status: %s", c.host, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("peer %s: decode /status: %w", c.host, err)
	}
	return st, nil
}

// GetConfig performs GET /config.
func (c *Client) GetConfig(ctx context.Context) (groupconfig.Config, error) {
	var cfg groupconfig.Config
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/config"), nil)
	if err != nil {
		return cfg, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return cfg, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cfg, fmt.Errorf("peer %s: GET /config: %s", c.host, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("peer %s: decode /config: %w", c.host, err)
	}
	return cfg, nil
}

// PushConfig performs POST /config with the local config as body.
func (c *Client) PushConfig(ctx context.Context, cfg groupconfig.Config) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/config"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s: POST /config: %s", c.host, resp.Status)
	}
	return nil
}

// DialStream opens the persistent /ws status-stream subscription.
func (c *Client) DialStream(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: c.host, Path: "/ws"}
	conn, _, err := c.dial.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("peer %s: dial /ws: %w", c.host, err)
	}
	return conn, nil
}
