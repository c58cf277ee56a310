// Package natsbridge republishes internal events onto NATS subjects so
// external consumers can follow the investigation pipeline.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
)

// Client wraps a NATS connection with reconnect handling.
type Client struct {
	conn *nc.Conn
}

// NewClient connects to the NATS server at url, reconnecting
// indefinitely on drops.
func NewClient(url string) (*Client, error) {
	log := logging.Component("nats")
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			log.Info().Str("url", conn.ConnectedUrl()).Msg("nats reconnected")
		}),
		nc.ClosedHandler(func(conn *nc.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn}, nil
}

// PublishJSON publishes a JSON-encoded message to a subject.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an asynchronous subscription delivering raw payloads.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// IsConnected reports connection health.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
