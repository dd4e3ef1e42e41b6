// Package notify delivers pipeline broadcasts to subscribers over MQTT and
// WebSocket without ever blocking the caller.
package notify

import "github.com/sweeney/nilm-server/internal/nilm"

// Multi fans a broadcast out to several notifiers.
type Multi []nilm.Notifier

// Publish forwards the message to every notifier in order.
func (m Multi) Publish(topic string, payload any) {
	for _, n := range m {
		n.Publish(topic, payload)
	}
}

// Envelope is the wire format for a broadcast message.
type Envelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}
