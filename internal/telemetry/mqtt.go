package telemetry

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"device-rules/config"
	"device-rules/internal/logger"
	"device-rules/internal/metrics"
)

// MQTTSampler subscribes to a device's telemetry topic until the first
// message arrives.
type MQTTSampler struct {
	client   mqtt.Client
	template string
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewMQTTSampler connects to cfg.MQTT.Broker.
func NewMQTTSampler(cfg *config.TelemetryConfig, log *logger.Logger, m *metrics.Metrics) (*MQTTSampler, error) {
	if log == nil {
		log = logger.NewNop()
	}

	s := &MQTTSampler{
		template: cfg.TopicTemplate,
		logger:   log,
		metrics:  m,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID).
		SetUsername(cfg.MQTT.Username).
		SetPassword(cfg.MQTT.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute)

	opts.OnConnect = s.handleConnect
	opts.OnConnectionLost = s.handleDisconnect
	opts.OnReconnecting = s.handleReconnecting

	if cfg.MQTT.TLS.Enable {
		tlsConfig, err := newTLSConfig(cfg.MQTT.TLS.CertFile, cfg.MQTT.TLS.KeyFile, cfg.MQTT.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", token.Error())
	}

	return s, nil
}

// NewMQTTSamplerWithClient wraps an existing client (for testing).
func NewMQTTSamplerWithClient(client mqtt.Client, template string, log *logger.Logger, m *metrics.Metrics) *MQTTSampler {
	if log == nil {
		log = logger.NewNop()
	}
	return &MQTTSampler{client: client, template: template, logger: log, metrics: m}
}

// Sample returns the payload of the next message published on the device's
// telemetry topic, or the context error when none arrives in time.
func (s *MQTTSampler) Sample(ctx context.Context, deviceID string) ([]byte, error) {
	if !s.client.IsConnected() {
		return nil, ErrNotConnected
	}
	topic, err := TopicFor(s.template, deviceID)
	if err != nil {
		return nil, err
	}

	received := make(chan []byte, 1)
	token := s.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		select {
		case received <- payload:
		default:
		}
	})
	if err := waitToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	defer s.unsubscribe(topic)

	s.logger.Debug("waiting for telemetry sample", "topic", topic)

	select {
	case payload := <-received:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MQTTSampler) unsubscribe(topic string) {
	token := s.client.Unsubscribe(topic)
	if !token.WaitTimeout(time.Second) {
		s.logger.Warn("timed out unsubscribing from telemetry topic", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Warn("failed to unsubscribe from telemetry topic",
			"topic", topic,
			"error", err)
	}
}

func (s *MQTTSampler) Close() {
	s.logger.Info("disconnecting telemetry sampler from mqtt broker")
	s.client.Disconnect(250)
	setConnected(s.metrics, false)
}

func (s *MQTTSampler) handleConnect(client mqtt.Client) {
	s.logger.Info("telemetry sampler connected to mqtt broker")
	setConnected(s.metrics, true)
}

func (s *MQTTSampler) handleDisconnect(client mqtt.Client, err error) {
	s.logger.Error("telemetry sampler lost mqtt connection", "error", err)
	setConnected(s.metrics, false)
}

func (s *MQTTSampler) handleReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	s.logger.Info("telemetry sampler reconnecting to mqtt broker", "servers", len(opts.Servers))
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
