package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
	"github.com/kstaniek/go-bms-bridge/internal/transport"
)

var (
	ErrMQTTOverflow = errors.New("mqtt publish queue full")
	ErrMQTTTimeout  = errors.New("mqtt publish timeout")
)

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// BrokerURL accepts "host", "host:port" or a full URL and returns a URL
// with a scheme and port (tcp, 1883 by default).
func BrokerURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	scheme := "tcp"
	if i := strings.Index(s, "://"); i >= 0 {
		scheme, s = s[:i], s[i+3:]
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		s = net.JoinHostPort(strings.Trim(s, "[]"), "1883")
	}
	return scheme + "://" + s
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (mqtt.Client, error) {
	l := logging.Component("mqtt")
	url := BrokerURL(cfg.Broker)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warn("mqtt_connection_lost", "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		l.Info("mqtt_connected", "broker", url)
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", url, err)
	}
	return client, nil
}

type mqttMessage struct {
	Topic   string
	Payload []byte
}

type samplePayload struct {
	Name    string    `json:"name"`
	Value   float64   `json:"value"`
	Unit    string    `json:"unit,omitempty"`
	FrameID uint8     `json:"frame_id"`
	TS      time.Time `json:"ts"`
}

// MQTTSink publishes each sample to <prefix>/<name> as JSON at QoS 0.
// Publishing runs on its own goroutine so a slow broker only fills the queue.
type MQTTSink struct {
	prefix string
	tx     *transport.AsyncTx[mqttMessage]
}

// NewMQTTSink starts the publish worker. timeout bounds each publish wait.
func NewMQTTSink(ctx context.Context, pub Publisher, prefix string, buf int, timeout time.Duration) *MQTTSink {
	if buf <= 0 {
		buf = DefaultOutBufSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := logging.Component("mqtt")
	send := func(m mqttMessage) error {
		tok := pub.Publish(m.Topic, 0, false, m.Payload)
		if !tok.WaitTimeout(timeout) {
			return fmt.Errorf("%s: %w", m.Topic, ErrMQTTTimeout)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("%s: %w", m.Topic, err)
		}
		return nil
	}
	tx := transport.NewAsyncTx(ctx, buf, send, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrMQTTPublish)
			l.Warn("mqtt_publish_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrMQTTOverflow)
			return ErrMQTTOverflow
		},
	})
	return &MQTTSink{prefix: strings.TrimRight(prefix, "/"), tx: tx}
}

// topicLevel maps characters that would split or wildcard a topic level to '_'.
var topicLevel = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic returns the publish topic for a parameter name. The name always
// forms a single topic level.
func (m *MQTTSink) Topic(name string) string {
	name = topicLevel.Replace(name)
	if m.prefix == "" {
		return name
	}
	return m.prefix + "/" + name
}

func (m *MQTTSink) Write(s bms.Sample) error {
	b, err := json.Marshal(samplePayload{
		Name:    s.Name,
		Value:   s.Value,
		Unit:    s.Unit,
		FrameID: uint8(s.FrameID),
		TS:      s.At.UTC(),
	})
	if err != nil {
		return err
	}
	return m.tx.Send(mqttMessage{Topic: m.Topic(s.Name), Payload: b})
}

// Pending returns the number of queued messages.
func (m *MQTTSink) Pending() int { return m.tx.Pending() }

// Close stops the publish worker. Queued messages are discarded.
func (m *MQTTSink) Close() { m.tx.Close() }
