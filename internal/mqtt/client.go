package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"cloudpico-bridge/internal/telemetry"
)

const (
	TopicTemperature = "sensor/temp"
	TopicPressure    = "sensor/press"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrBufferFull   = errors.New("mqtt offline buffer full")
	ErrStopped      = errors.New("mqtt client stopped")
)

const publishTimeout = 5 * time.Second

type Options struct {
	Broker     string
	Port       int
	ClientID   string
	Username   string
	Password   string
	BufferSize int
}

// Callbacks report connection and delivery outcomes. Any field may be nil.
type Callbacks struct {
	OnConnect        func()
	OnConnectFailure func(err error)
	OnPublish        func(topic, payload string)
	OnPublishFailure func(topic string, err error)
}

// pahoClient is the subset of mqtt.Client in use.
type pahoClient interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic   string
	payload string
}

// Client publishes readings as plain-text decimals. While the broker is
// unreachable, messages are kept in a bounded in-memory FIFO that is
// flushed on every (re)connect and lost on process exit.
type Client struct {
	client    pahoClient
	opts      Options
	callbacks Callbacks
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	bufMu    sync.Mutex
	buffer   []message
	flushing bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ telemetry.Sink = (*Client)(nil)

func NewClient(o Options, cb Callbacks, logger *slog.Logger) (*Client, error) {
	if o.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := newClient(o, cb, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Session settings
	opts.SetCleanSession(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.handleConnectionLost(err) })

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func newClient(o Options, cb Callbacks, logger *slog.Logger) *Client {
	return &Client{
		opts:      o,
		callbacks: cb,
		logger:    logger.With("component", "mqtt"),
		stopCh:    make(chan struct{}),
	}
}

// Connect waits for the initial connection, respecting ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	// Fast path.
	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry(true) the token may stay pending while paho retries.
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				if c.callbacks.OnConnectFailure != nil {
					c.callbacks.OnConnectFailure(err)
				}
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// handleConnect sets connected=true.
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

// Topic maps a reading kind to its topic.
func Topic(k telemetry.Kind) (string, bool) {
	switch k {
	case telemetry.Temperature:
		return TopicTemperature, true
	case telemetry.Pressure:
		return TopicPressure, true
	default:
		return "", false
	}
}

// Payload formats v the way it is published: shortest decimal form.
func Payload(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

// Publish sends r, or buffers it when disconnected. While older messages
// are still queued, r goes behind them so the broker sees them in order.
func (c *Client) Publish(_ context.Context, r telemetry.Reading) error {
	topic, ok := Topic(r.Kind)
	if !ok {
		return fmt.Errorf("mqtt: no topic for %s readings", r.Kind)
	}

	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	m := message{topic: topic, payload: Payload(r.Value)}
	if !c.IsConnected() {
		return c.enqueue(m)
	}
	if c.backlogged() {
		if err := c.enqueue(m); err != nil {
			return err
		}
		go c.flush()
		return nil
	}
	return c.publish(m)
}

func (c *Client) enqueue(m message) error {
	c.bufMu.Lock()
	if len(c.buffer) >= c.opts.BufferSize {
		c.bufMu.Unlock()
		err := fmt.Errorf("%w (%d messages)", ErrBufferFull, c.opts.BufferSize)
		c.publishFailed(m.topic, err)
		return err
	}
	c.buffer = append(c.buffer, m)
	n := len(c.buffer)
	c.bufMu.Unlock()

	c.logger.Debug("buffered message", "topic", m.topic, "buffered", n)
	return nil
}

func (c *Client) publish(m message) error {
	token := c.client.Publish(m.topic, 1, false, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		err := fmt.Errorf("publish timeout for topic %s", m.topic)
		c.publishFailed(m.topic, err)
		return err
	}
	if err := token.Error(); err != nil {
		err = fmt.Errorf("publish %s: %w", m.topic, err)
		c.publishFailed(m.topic, err)
		return err
	}

	c.logger.Debug("published", "topic", m.topic, "payload", m.payload)
	if c.callbacks.OnPublish != nil {
		c.callbacks.OnPublish(m.topic, m.payload)
	}
	return nil
}

func (c *Client) publishFailed(topic string, err error) {
	c.logger.Warn("mqtt publish failed", "topic", topic, "err", err)
	if c.callbacks.OnPublishFailure != nil {
		c.callbacks.OnPublishFailure(topic, err)
	}
}

// backlogged reports whether queued messages are waiting or being sent.
func (c *Client) backlogged() bool {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return len(c.buffer) > 0 || c.flushing
}

// flush drains the offline buffer in order. It stops at the first failure
// and keeps the remaining messages for the next connect. Only one flush
// runs at a time.
func (c *Client) flush() {
	c.bufMu.Lock()
	if c.flushing {
		c.bufMu.Unlock()
		return
	}
	c.flushing = true
	c.bufMu.Unlock()

	for {
		c.bufMu.Lock()
		if len(c.buffer) == 0 || !c.IsConnected() {
			c.flushing = false
			c.bufMu.Unlock()
			return
		}
		m := c.buffer[0]
		c.buffer = c.buffer[1:]
		c.bufMu.Unlock()

		if err := c.publish(m); err != nil {
			c.bufMu.Lock()
			c.buffer = append([]message{m}, c.buffer...)
			c.flushing = false
			c.bufMu.Unlock()
			return
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (c *Client) Buffered() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return len(c.buffer)
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.logger.Info("mqtt connected", "broker", c.opts.Broker, "port", c.opts.Port, "buffered", c.Buffered())
	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect()
	}
	go c.flush()
}

func (c *Client) handleConnectionLost(err error) {
	c.setConnected(false)
	c.logger.Warn("mqtt connection lost", "error", err)
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent. Buffered messages are dropped.
func (c *Client) Disconnect() {
	// Signal shutdown once (unblocks any Connect loops).
	c.stopOnce.Do(func() { close(c.stopCh) })

	// Paho Disconnect quiesces in-flight work for the given ms.
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	if n := c.Buffered(); n > 0 {
		c.logger.Warn("dropping buffered messages", "count", n)
	}
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
