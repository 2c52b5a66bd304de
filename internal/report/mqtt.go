package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config contains MQTT publisher settings
type Config struct {
	Broker   string // host:port or URL (tcp://, ssl://, ws://)
	ClientID string // empty = framecount-<uuid>
	Topic    string
	QoS      byte
	Format   string // json, msgpack
	Username string
	Password string
	Timeout  time.Duration // connect and publish timeout (default 5s)
}

// Publisher publishes run summaries to an MQTT broker
type Publisher struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewPublisher creates a publisher; call Connect before Publish
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "framecount-" + uuid.NewString()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	return &Publisher{cfg: cfg}
}

// brokerURL adds the tcp:// scheme to a bare host:port
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the connection to the broker.
// A count publishes once and exits, so there is no automatic reconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(p.cfg.Timeout)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		slog.Warn("report: mqtt connection lost", "error", err)
	}

	p.client = mqtt.NewClient(opts)

	slog.Debug("report: connecting to mqtt broker", "broker", p.cfg.Broker, "client_id", p.cfg.ClientID)

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(p.cfg.Timeout):
		return fmt.Errorf("report: mqtt connection timeout")
	case <-ctx.Done():
		return fmt.Errorf("report: mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("report: mqtt connection failed: %w", err)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// Publish encodes s and publishes it on the configured topic
func (p *Publisher) Publish(s Summary) error {
	if !p.isConnected() {
		p.countError()
		return fmt.Errorf("report: mqtt not connected")
	}

	payload, err := Encode(s, p.cfg.Format)
	if err != nil {
		p.countError()
		return err
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(p.cfg.Timeout) {
		p.countError()
		return fmt.Errorf("report: publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("report: publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	slog.Debug("report: summary published",
		"topic", p.cfg.Topic,
		"qos", p.cfg.QoS,
		"format", p.cfg.Format,
		"size", len(payload),
		"run_id", s.RunID,
	)
	return nil
}

// Disconnect closes the MQTT connection
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250) // 250ms grace period
		slog.Debug("report: mqtt disconnected")
	}

	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
