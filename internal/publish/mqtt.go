package publish

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/sensorbridge/internal/monitoring"
	"github.com/banshee-data/sensorbridge/internal/record"
)

// Defaults used by the deployed bridge.
const (
	DefaultBroker = "localhost"
	DefaultPort   = 1883
	DefaultTopic  = "home/sensor/xbee"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.Broker == "" {
		c.Broker = DefaultBroker
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ClientID == "" {
		c.ClientID = "sensorbridge-" + uuid.NewString()
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// BrokerURL returns the tcp:// URL for the configured broker.
func (c MQTTConfig) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(c.Broker, strconv.Itoa(c.Port))
}

// mqttClient is the subset of mqtt.Client used by MQTTSink.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes records at QoS 0 with the retain flag set, so late
// subscribers immediately see the most recent reading.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqttClient
}

// NewMQTTSink creates the client and starts connecting. The client retries
// the initial connection and reconnects on its own; if the broker is not
// reachable within ConnectTimeout the sink is still returned and records
// published meanwhile are dropped.
func NewMQTTSink(cfg MQTTConfig) *MQTTSink {
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			monitoring.Logf("[publish] connected to MQTT broker %s", cfg.BrokerURL())
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("[publish] lost MQTT connection: %v", err)
		})

	s := newMQTTSink(cfg, mqtt.NewClient(opts))
	s.connect()
	return s
}

func newMQTTSink(cfg MQTTConfig, client mqttClient) *MQTTSink {
	return &MQTTSink{cfg: cfg.withDefaults(), client: client}
}

func (s *MQTTSink) connect() {
	monitoring.Logf("[publish] connecting to MQTT broker at %s as %s", s.cfg.BrokerURL(), s.cfg.ClientID)
	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		monitoring.Logf("[publish] MQTT broker not reachable after %v, retrying in background", s.cfg.ConnectTimeout)
		return
	}
	if err := token.Error(); err != nil {
		monitoring.Logf("[publish] MQTT connect failed: %v", err)
	}
}

// Topic returns the topic records are published on.
func (s *MQTTSink) Topic() string {
	return s.cfg.Topic
}

// Publish hands the payload to the client without waiting for delivery. An
// error is returned only if the client has already failed the publish.
func (s *MQTTSink) Publish(_ context.Context, rec record.Record) error {
	payload, err := Payload(rec)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	token := s.client.Publish(s.cfg.Topic, 0, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", s.cfg.Topic, err)
		}
	default:
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight work 250ms.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	monitoring.Logf("[publish] disconnected from MQTT broker")
	return nil
}
