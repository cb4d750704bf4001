// Package bus wraps the NATS connection used to fan caption stream
// events out to subscribers. Captions are ephemeral by nature, so the
// client uses plain core NATS publish/subscribe; durability lives in
// the persistence sidecar, not the bus.
package bus

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/livespeak-labs/livespeak-core/internal/config"
	"github.com/livespeak-labs/livespeak-core/internal/protocol"
)

// Client wraps a NATS connection with caption-stream helpers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured NATS servers.
func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("livespeak-runtime"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return &Client{conn: conn, log: log}, nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// PublishEvent publishes one stream event on the session's subject.
// Marshal or publish failures are logged and swallowed; the caption
// pipeline never blocks or fails on fan-out.
func (c *Client) PublishEvent(ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Warn("marshal stream event failed", slog.String("error", err.Error()))
		return
	}
	subject := protocol.SubjectCaptionEvents(ev.SessionID)
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("publish stream event failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

// SubscribeSession delivers a session's stream events to handler until
// the returned subscription is unsubscribed. handler runs on the NATS
// callback goroutine.
func (c *Client) SubscribeSession(sessionID string, handler func(protocol.Event)) (*nats.Subscription, error) {
	subject := protocol.SubjectCaptionEvents(sessionID)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev protocol.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warn("malformed stream event on bus",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()))
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}
