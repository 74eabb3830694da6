// Package mqtt wraps the paho client with the connection lifecycle shared by
// the server and the device simulator: ctx-aware connect, a backoff retry loop,
// resubscription on every (re)connect and synchronous publish.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"greenhouse-server/internal/metrics"
)

var (
	ErrStopped      = errors.New("mqtt client stopped")
	ErrNotConnected = errors.New("mqtt client not connected")
)

const (
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 5 * time.Second
)

// MessageHandler receives the raw topic and payload of every message on a
// subscribed topic filter.
type MessageHandler func(topic string, payload []byte)

type Options struct {
	Broker   string
	Port     int
	ClientID string
	QoS      byte
}

type Client struct {
	client    mqtt.Client
	opts      Options
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	subsMu sync.Mutex
	subs   map[string]MessageHandler

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(o Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		opts:   o,
		logger: logger,
		subs:   make(map[string]MessageHandler),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)

	// Session settings
	opts.SetCleanSession(true)

	// Initial connection is retried by Run; paho takes over once connected.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port)
		// A clean session forgets subscriptions, so restore them on every connect.
		go c.resubscribe()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("mqtt reconnecting", "broker", o.Broker)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Subscribe registers handler for topic. It takes effect immediately when
// connected and is restored after every reconnect.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.subsMu.Lock()
	c.subs[topic] = handler
	c.subsMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug("received mqtt message", "topic", msg.Topic(), "size", len(msg.Payload()))
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	c.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", c.opts.QoS)
	return nil
}

func (c *Client) resubscribe() {
	c.subsMu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.subsMu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribe(topic, handler); err != nil {
			c.logger.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Connect makes a single connection attempt. It respects ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler sets connected=true.
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// ConnectWithRetry keeps attempting to connect with exponential backoff until
// it succeeds, ctx is done or the client is stopped.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	op := func() error {
		err := c.Connect(ctx)
		if errors.Is(err, ErrStopped) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("mqtt connect failed, retrying", "error", err, "retry_in", next)
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

// Run connects, retrying with backoff, and disconnects once ctx is cancelled.
// Broker unavailability never makes Run fail.
func (c *Client) Run(ctx context.Context) error {
	if err := c.ConnectWithRetry(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrStopped) {
		c.logger.Error("mqtt connect gave up", "error", err)
	}
	<-ctx.Done()
	c.Disconnect()
	return nil
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.opts.QoS, false, payload)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	c.logger.Debug("published mqtt message", "topic", topic, "size", len(payload))
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		if c.IsConnected() {
			c.subsMu.Lock()
			topics := make([]string, 0, len(c.subs))
			for t := range c.subs {
				topics = append(topics, t)
			}
			c.subsMu.Unlock()
			if len(topics) > 0 {
				c.client.Unsubscribe(topics...).WaitTimeout(2 * time.Second)
			}
		}
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
	if v {
		metrics.MQTTConnected.Set(1)
	} else {
		metrics.MQTTConnected.Set(0)
	}
}
