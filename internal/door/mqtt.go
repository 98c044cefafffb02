package door

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// OpenPayload is published to the door topic.
const OpenPayload = "open"

// MQTTConfig configures the MQTT door driver.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTT publishes an open command to a relay listening on a topic.
type MQTT struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

func NewMQTT(cfg MQTTConfig, logger *zap.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return newMQTT(client, cfg.Topic, logger), nil
}

func newMQTT(client mqtt.Client, topic string, logger *zap.Logger) *MQTT {
	return &MQTT{client: client, topic: topic, logger: logger.Named("door.mqtt")}
}

// TriggerOpen publishes with QoS 1 and waits for the broker ack or ctx.
func (m *MQTT) TriggerOpen(ctx context.Context) error {
	token := m.client.Publish(m.topic, 1, false, []byte(OpenPayload))
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", m.topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", m.topic, err)
	}
	m.logger.Debug("open command published", zap.String("topic", m.topic))
	return nil
}

func (m *MQTT) Close() {
	m.client.Disconnect(250) // 250ms
}
