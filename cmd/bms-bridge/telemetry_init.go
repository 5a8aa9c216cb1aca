package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-bms-bridge/internal/telemetry"
)

const defaultTopicPrefix = "bms"

// dialMQTT is a hook for tests; it returns a publisher and its disconnect func.
var dialMQTT = defaultDialMQTT

func defaultDialMQTT(ctx context.Context, c telemetry.MQTTConfig) (telemetry.Publisher, func(), error) {
	cl, err := telemetry.DialMQTT(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return cl, func() { cl.Disconnect(250) }, nil
}

// telemetryStack is the hub plus the sinks attached to it.
type telemetryStack struct {
	hub  *telemetry.Hub
	last *telemetry.LastValues
	mqtt *telemetry.MQTTSink
	stop []func()
}

func (t *telemetryStack) Close() {
	for i := len(t.stop) - 1; i >= 0; i-- {
		t.stop[i]()
	}
}

// mqttPrefix picks the flag, else the first configured topic, else "bms".
func mqttPrefix(flag string, topics []string) string {
	switch {
	case flag != "":
		return flag
	case len(topics) > 0 && topics[0] != "":
		return topics[0]
	default:
		return defaultTopicPrefix
	}
}

// initTelemetry builds the hub and attaches the last-value store, the
// Prometheus gauge sink, and optionally the log and MQTT sinks.
func initTelemetry(ctx context.Context, cfg *appConfig, topics []string, l *slog.Logger, wg *sync.WaitGroup) (*telemetryStack, error) {
	h := telemetry.New()
	h.OutBufSize = cfg.telemetryBuffer
	policy, ok := telemetry.ParsePolicy(cfg.telemetryPolicy)
	if !ok {
		l.Warn("unknown_telemetry_policy", "policy", cfg.telemetryPolicy, "used", "drop")
	}
	h.Policy = policy
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("telemetry_config", "policy", h.Policy.String(), "buffer", h.OutBufSize)

	ts := &telemetryStack{hub: h, last: telemetry.NewLastValues()}
	h.Attach(ctx, "last", ts.last, wg)
	h.Attach(ctx, "prometheus", telemetry.PromSink{}, wg)
	if cfg.logSamples {
		h.Attach(ctx, "log", telemetry.LogSink{Log: l}, wg)
	}
	if cfg.mqttBroker != "" {
		pub, disconnect, err := dialMQTT(ctx, telemetry.MQTTConfig{
			Broker:   cfg.mqttBroker,
			ClientID: cfg.mqttClientID,
			Username: cfg.mqttUsername,
			Password: cfg.mqttPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		prefix := mqttPrefix(cfg.mqttPrefix, topics)
		ts.mqtt = telemetry.NewMQTTSink(ctx, pub, prefix, cfg.telemetryBuffer, mqttPublishTimeout)
		ts.stop = append(ts.stop, disconnect, ts.mqtt.Close)
		h.Attach(ctx, "mqtt", ts.mqtt, wg)
		l.Info("mqtt_sink", "broker", telemetry.BrokerURL(cfg.mqttBroker), "prefix", prefix)
	}
	return ts, nil
}
