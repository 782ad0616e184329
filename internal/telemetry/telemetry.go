// Package telemetry samples live device telemetry from the message broker so
// the field resolver can offer fields the device actually reports.
package telemetry

import (
	"errors"
	"fmt"
	"strings"

	"device-rules/config"
	"device-rules/internal/logger"
	"device-rules/internal/metrics"
	"device-rules/internal/schema"
)

// DevicePlaceholder is replaced by the device ID in the topic template.
const DevicePlaceholder = "{device_id}"

// ErrNotConnected is returned when sampling while the broker link is down.
var ErrNotConnected = errors.New("telemetry sampler is not connected")

// Sampler waits for one telemetry message and owns a broker connection.
type Sampler interface {
	schema.Sampler
	Close()
}

// New connects the sampler selected by cfg.Broker. An empty broker disables
// sampling and returns a nil Sampler.
func New(cfg *config.TelemetryConfig, log *logger.Logger, m *metrics.Metrics) (Sampler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	switch cfg.Broker {
	case "":
		return nil, nil
	case "mqtt":
		return NewMQTTSampler(cfg, log, m)
	case "nats":
		return NewNATSSampler(cfg, log, m)
	default:
		return nil, fmt.Errorf("unsupported telemetry broker: %s", cfg.Broker)
	}
}

// TopicFor renders the telemetry topic of deviceID. Device IDs that would
// turn the topic into a wildcard filter are rejected.
func TopicFor(template, deviceID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("device id cannot be empty")
	}
	if strings.ContainsAny(deviceID, "+#/") {
		return "", fmt.Errorf("device id %q cannot be used in a topic", deviceID)
	}
	return strings.ReplaceAll(template, DevicePlaceholder, deviceID), nil
}

// ToNATSSubject converts an MQTT topic to a NATS subject: / separators become
// dots and the +/# wildcards become */>.
func ToNATSSubject(mqttTopic string) string {
	subject := strings.ReplaceAll(mqttTopic, "+", "*")
	subject = strings.ReplaceAll(subject, "#", ">")
	return strings.ReplaceAll(subject, "/", ".")
}

// NormalizeSubjectToken replaces characters that would split or break a
// single NATS subject token.
func NormalizeSubjectToken(token string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		".", "_",
		",", "_",
		":", "_",
		"?", "_",
		"[", "_",
		"]", "_",
		"*", "_",
		">", "_",
	)
	return replacer.Replace(token)
}

func setConnected(m *metrics.Metrics, connected bool) {
	if m != nil {
		m.SetSamplerConnected(connected)
	}
}
