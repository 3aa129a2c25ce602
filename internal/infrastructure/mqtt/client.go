package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// Client is the gateway's publish-only connection to the broker. It is safe
// for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// up tracks paho's connect/lost callbacks; IsConnected also asks paho.
	up atomic.Bool

	hooksMu sync.RWMutex
	hooks   hooks
}

type hooks struct {
	connect    func()
	disconnect func(err error)
}

// Connect dials the broker and waits up to defaultConnectTimeout for the
// first CONNACK. After that paho reconnects on its own; every (re)connect
// republishes the retained online status on graylogic/gateway/status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })

	c.client = pahomqtt.NewClient(opts)
	tok := c.client.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK from %s:%d within %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, defaultConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onConnected runs on a paho goroutine and may not have fired yet.
	c.up.Store(true)
	return c, nil
}

func (c *Client) onConnected() {
	c.up.Store(true)
	c.client.Publish(Topics{}.GatewayStatus(), c.qos(), true, statusPayload(StatusOnline, c.cfg.Broker.ClientID, ""))

	c.hooksMu.RLock()
	fn := c.hooks.connect
	c.hooksMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) onLost(err error) {
	c.up.Store(false)

	c.hooksMu.RLock()
	fn := c.hooks.disconnect
	c.hooksMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) qos() byte { return byte(c.cfg.QoS) }

// Close replaces the retained status with a graceful offline message, then
// disconnects. It never fails; the error return satisfies io.Closer.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.client.Publish(Topics{}.GatewayStatus(), c.qos(), true,
			statusPayload(StatusOffline, c.cfg.Broker.ClientID, "graceful_shutdown")).
			WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
	return nil
}

// HealthCheck fails with ErrNotConnected while paho is reconnecting.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.up.Load() && c.client.IsConnected()
}

// SetOnConnect registers a callback for the initial connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.hooks.connect = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect registers a callback for lost connections.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.hooks.disconnect = fn
	c.hooksMu.Unlock()
}
