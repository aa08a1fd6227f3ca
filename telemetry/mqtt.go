package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"sshtui/config"
)

// MQTTSink publishes session lifecycle events to a single MQTT broker
// topic, generalizing the teacher's tag-value Publisher down to the one
// message shape this library needs.
type MQTTSink struct {
	cfg    config.MQTTSinkConfig
	client pahomqtt.Client
}

// NewMQTTSink connects to the broker described by cfg. The connection
// uses the client's built-in auto-reconnect, so a broker that's briefly
// unreachable doesn't need to be retried by the caller.
func NewMQTTSink(cfg config.MQTTSinkConfig) (*MQTTSink, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("telemetry: mqtt connect timeout to %s:%d", cfg.Broker, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect failed: %w", err)
	}

	return &MQTTSink{cfg: cfg, client: client}, nil
}

func (s *MQTTSink) Name() string { return "mqtt:" + s.cfg.Topic }

// Publish sends event as a retained-false QoS 1 message. ctx only bounds
// how long the caller is willing to wait for the library's own publish
// token; it does not cancel the underlying TCP write.
func (s *MQTTSink) Publish(ctx context.Context, event Event) error {
	payload, err := marshalEvent(event)
	if err != nil {
		return err
	}

	token := s.client.Publish(s.cfg.Topic, 1, false, payload)
	deadline, ok := ctx.Deadline()
	wait := 5 * time.Second
	if ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("telemetry: mqtt publish timeout")
	}
	return token.Error()
}

// Close disconnects the underlying MQTT client.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
