package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"device-rules/config"
	"device-rules/internal/logger"
	"device-rules/internal/metrics"
)

// subscribeFunc subscribes handler to subject and returns its unsubscribe call.
type subscribeFunc func(subject string, handler nats.MsgHandler) (func() error, error)

// NATSSampler reads one message from the device's telemetry subject, the
// telemetry topic converted to NATS syntax.
type NATSSampler struct {
	conn      *nats.Conn
	subscribe subscribeFunc
	connected func() bool
	template  string
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewNATSSampler connects to the first of cfg.NATS.URLs; the others are
// used for reconnects.
func NewNATSSampler(cfg *config.TelemetryConfig, log *logger.Logger, m *metrics.Metrics) (*NATSSampler, error) {
	if len(cfg.NATS.URLs) == 0 {
		return nil, fmt.Errorf("no NATS server URLs provided")
	}

	if log == nil {
		log = logger.NewNop()
	}

	s := &NATSSampler{
		template: cfg.TopicTemplate,
		logger:   log,
		metrics:  m,
	}

	opts := []nats.Option{
		nats.Name(cfg.NATS.ClientID),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(s.handleDisconnect),
		nats.ReconnectHandler(s.handleReconnect),
		nats.ClosedHandler(s.handleClosed),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.TLS.Enable {
		opts = append(opts, nats.ClientCert(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile))
		if cfg.NATS.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.NATS.TLS.CAFile))
		}
	}

	log.Info("connecting to NATS server", "urls", cfg.NATS.URLs)

	conn, err := nats.Connect(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	s.conn = conn
	s.connected = conn.IsConnected
	s.subscribe = func(subject string, handler nats.MsgHandler) (func() error, error) {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			return nil, err
		}
		return sub.Unsubscribe, nil
	}
	setConnected(m, true)
	log.Info("connected to NATS server", "url", conn.ConnectedUrl())

	return s, nil
}

// newNATSSamplerWithSubscribe builds a sampler around a custom subscribe
// call (for testing).
func newNATSSamplerWithSubscribe(subscribe subscribeFunc, template string, log *logger.Logger) *NATSSampler {
	if log == nil {
		log = logger.NewNop()
	}
	return &NATSSampler{
		subscribe: subscribe,
		connected: func() bool { return true },
		template:  template,
		logger:    log,
	}
}

// Subject returns the NATS subject telemetry of deviceID is published on.
func (s *NATSSampler) Subject(deviceID string) (string, error) {
	topic, err := TopicFor(s.template, NormalizeSubjectToken(deviceID))
	if err != nil {
		return "", err
	}
	return ToNATSSubject(topic), nil
}

// Sample returns the data of the next message on the device's subject.
func (s *NATSSampler) Sample(ctx context.Context, deviceID string) ([]byte, error) {
	if !s.connected() {
		return nil, ErrNotConnected
	}
	subject, err := s.Subject(deviceID)
	if err != nil {
		return nil, err
	}

	received := make(chan []byte, 1)
	unsubscribe, err := s.subscribe(subject, func(msg *nats.Msg) {
		data := append([]byte(nil), msg.Data...)
		select {
		case received <- data:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer func() {
		if err := unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe from telemetry subject",
				"subject", subject,
				"error", err)
		}
	}()

	s.logger.Debug("waiting for telemetry sample", "subject", subject)

	select {
	case data := <-received:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *NATSSampler) Close() {
	if s.conn != nil {
		s.logger.Info("disconnecting telemetry sampler from NATS server")
		s.conn.Close()
	}
	setConnected(s.metrics, false)
}

func (s *NATSSampler) handleDisconnect(conn *nats.Conn, err error) {
	s.logger.Error("telemetry sampler disconnected from NATS server", "error", err)
	setConnected(s.metrics, false)
}

func (s *NATSSampler) handleReconnect(conn *nats.Conn) {
	s.logger.Info("telemetry sampler reconnected to NATS server", "url", conn.ConnectedUrl())
	setConnected(s.metrics, true)
}

func (s *NATSSampler) handleClosed(conn *nats.Conn) {
	s.logger.Warn("telemetry sampler NATS connection closed")
	setConnected(s.metrics, false)
}
