package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// offlineBufferSize bounds how many broadcasts are held while disconnected.
const offlineBufferSize = 256

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker      string // e.g. "tcp://localhost:1883"
	Username    string
	Password    string
	TopicPrefix string // prepended to every broadcast topic
	Logger      *slog.Logger
}

// MQTTPublisher publishes broadcasts to an MQTT broker. Messages sent while
// disconnected are buffered and replayed on reconnect, oldest dropped first
// when the buffer fills.
type MQTTPublisher struct {
	client paho.Client
	prefix string
	log    *slog.Logger

	mu      sync.Mutex
	pending *ringBuffer
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &MQTTPublisher{
		prefix:  opts.TopicPrefix,
		log:     log.With(slog.String("component", "mqtt")),
		pending: newRingBuffer(offlineBufferSize),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID("nilm-server").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn("broker connection lost", slog.Any("error", err))
		})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a broadcast without blocking the caller. Marshal failures and
// publish errors are logged, never returned: the detection pipeline must not
// stall on a flaky broker.
func (p *MQTTPublisher) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("marshal broadcast", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	full := p.prefix + "/" + topic

	if !p.client.IsConnected() {
		p.mu.Lock()
		p.pending.push(bufferedMsg{topic: full, payload: data})
		p.mu.Unlock()
		return
	}

	// QoS 0 (at-most-once), not retained
	token := p.client.Publish(full, 0, false, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.log.Warn("publish failed", slog.String("topic", full), slog.Any("error", token.Error()))
		}
	}()
}

// onConnect replays any messages buffered while disconnected.
func (p *MQTTPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	msgs, dropped := p.pending.drainAll()
	p.mu.Unlock()

	if dropped > 0 {
		p.log.Warn("offline buffer overflowed", slog.Int("dropped", dropped))
	}
	if len(msgs) == 0 {
		return
	}

	p.log.Info("replaying buffered broadcasts", slog.Int("count", len(msgs)))
	for _, msg := range msgs {
		client.Publish(msg.topic, 0, false, msg.payload)
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
