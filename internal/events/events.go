// Package events provides a NATS client wrapper for fanning out
// moderation decisions and settings changes across triage instances.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects used by the triage service.
const (
	SubjectDecision = "moderation.decision"
	SubjectSettings = "moderation.settings"
)

// DecisionEvent is published for every fresh block or watch decision.
type DecisionEvent struct {
	BatchID    string   `json:"batch_id"`
	Username   string   `json:"username"`
	Decision   string   `json:"decision"`
	Reason     string   `json:"reason"`
	Categories []string `json:"categories"`
	TS         int64    `json:"ts"`
}

// SettingsEvent is published after a settings update so that other
// instances rebuild their classifier and drop cached decisions.
type SettingsEvent struct {
	Revision int64 `json:"revision"`
	TS       int64 `json:"ts"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Name:          "triage",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Client wraps the NATS connection with publish and subscribe helpers
// for the moderation subjects.
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// Connect dials NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func Connect(config Config, logger *zap.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			} else {
				logger.Info("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}

	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))

	return &Client{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// PublishDecision publishes a decision event.
func (c *Client) PublishDecision(ev DecisionEvent) error {
	return c.publish(SubjectDecision, ev)
}

// PublishSettingsChanged publishes a settings-changed event.
func (c *Client) PublishSettingsChanged(ev SettingsEvent) error {
	return c.publish(SubjectSettings, ev)
}

func (c *Client) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeSettingsChanged registers a handler for settings-changed
// events. Payloads that fail to decode are logged and skipped.
func (c *Client) SubscribeSettingsChanged(handler func(SettingsEvent)) error {
	return c.subscribe(SubjectSettings, func(msg *nats.Msg) {
		var ev SettingsEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("bad settings event payload", zap.Error(err))
			return
		}
		handler(ev)
	})
}

// SubscribeDecisions registers a handler for decision events.
func (c *Client) SubscribeDecisions(handler func(DecisionEvent)) error {
	return c.subscribe(SubjectDecision, func(msg *nats.Msg) {
		var ev DecisionEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("bad decision event payload", zap.Error(err))
			return
		}
		handler(ev)
	})
}

// subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("events: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Close drains all active subscriptions and closes the NATS
// connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("nats drain", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats connection drain", zap.Error(err))
	}

	c.logger.Info("nats client closed")
}
