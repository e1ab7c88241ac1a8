package ingest

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Consumer subscribes to the telemetry topic pattern on the MQTT broker and
// feeds raw payloads into the ingestor's work queue. Malformed payloads are
// rejected downstream; the transport callback never fails.
type Consumer struct {
	client mqtt.Client
	topic  string
}

// NewConsumer builds an MQTT consumer. The subscription is (re)established
// in the OnConnect hook so it survives broker reconnects.
func NewConsumer(brokerURL, clientID, topic string, ing *Ingestor) *Consumer {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		ing.Enqueue(msg.Payload())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOrderMatters(false)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connected", "broker", brokerURL)
		if token := c.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			slog.Error("mqtt subscribe failed", "topic", topic, "error", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}

	return &Consumer{client: mqtt.NewClient(opts), topic: topic}
}

// Start connects to the broker; the subscription happens on connect.
func (c *Consumer) Start() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Stop unsubscribes and disconnects, letting in-flight deliveries finish.
func (c *Consumer) Stop() {
	if c.client.IsConnected() {
		c.client.Unsubscribe(c.topic)
		c.client.Disconnect(250)
	}
}
