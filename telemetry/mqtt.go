package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type MQTTConfig struct {
	Broker             string        `mapstructure:"broker"`
	ClientID           string        `mapstructure:"client-id"`
	TankTopic          string        `mapstructure:"tank-topic"`
	PumpTopic          string        `mapstructure:"pump-topic"`
	QoS                byte          `mapstructure:"qos"`
	InsecureSkipVerify bool          `mapstructure:"insecure-skip-verify"`
	ConnectTimeout     time.Duration `mapstructure:"connect-timeout"`
	PublishTimeout     time.Duration `mapstructure:"publish-timeout"`
	Username           string        `mapstructure:"-"`
	Password           string        `mapstructure:"-"`
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		TankTopic:      "topic/tank",
		PumpTopic:      "topic/pump",
		QoS:            0,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Enabled reports if a broker has been configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func (c MQTTConfig) clientID() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return "tank-controller-" + uuid.NewString()
}

func (c MQTTConfig) usesTLS() bool {
	for _, prefix := range []string{"ssl://", "tls://", "mqtts://", "wss://"} {
		if strings.HasPrefix(c.Broker, prefix) {
			return true
		}
	}
	return false
}

// MQTTSink publishes JSON payloads to the tank and pump topics.
type MQTTSink struct {
	client mqtt.Client
	config MQTTConfig
}

// NewMQTTSink connects to the broker. The client keeps retrying in the background, so a broker that
// is not reachable yet is logged and not returned as an error.
func NewMQTTSink(c MQTTConfig) (*MQTTSink, error) {
	if !c.Enabled() {
		return nil, errors.New("no MQTT broker configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Broker)
	opts.SetClientID(c.clientID())
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	if c.usesTLS() {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: c.InsecureSkipVerify})
	}
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", c.Broker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(c.ConnectTimeout) {
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
	} else {
		log.Infof("MQTT broker %s not connected yet, will keep retrying", c.Broker)
	}

	return &MQTTSink{client: client, config: c}, nil
}

func (s *MQTTSink) PublishTank(ctx context.Context, e TankEvent) error {
	payload, err := json.Marshal(newTankPayload(e))
	if err != nil {
		return err
	}
	return s.publish(ctx, s.config.TankTopic, payload)
}

func (s *MQTTSink) PublishPump(ctx context.Context, e PumpEvent) error {
	payload, err := json.Marshal(newPumpPayload(e))
	if err != nil {
		return err
	}
	return s.publish(ctx, s.config.PumpTopic, payload)
}

func (s *MQTTSink) publish(ctx context.Context, topic string, payload []byte) error {
	log.Debugf("Publishing to '%s': %s", topic, payload)
	token := s.client.Publish(topic, s.config.QoS, false, payload)

	timeout := s.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to '%s'", topic)
	}
	return token.Error()
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
