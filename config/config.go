package config

import (
	_ "embed"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Defaults for operational configuration.
// These can be overridden by placing a non-empty value in the corresponding .text file.
const (
	DefaultTickInterval    = 200 * time.Millisecond
	DefaultPublishInterval = 15 * time.Second
	DefaultStatusInterval  = 5 * time.Second
	DefaultSerialInterval  = time.Second
	DefaultSerialBaud      = 2400
	DefaultSerialTimeout   = 1500 * time.Millisecond
	DefaultAPChannel       = 6
	DefaultDeviceType      = "L"
)

// Environment-specific configuration (must be provided via embedded text files).
var (
	//go:embed broker.text
	brokerAddr string

	//go:embed topic_base.text
	topicBase string

	//go:embed hostname.text
	hostname string
)

// Optional overrides for defaults (empty file = use default).
var (
	//go:embed publish_interval.text
	publishIntervalOverride string

	//go:embed serial_interval.text
	serialIntervalOverride string

	//go:embed serial_baud.text
	serialBaudOverride string

	//go:embed ap_channel.text
	apChannelOverride string
)

// BrokerAddr returns the MQTT broker address from broker.text.
// Format: "host:port" e.g., "192.168.1.100:1883"
func BrokerAddr() (netip.AddrPort, error) {
	addr := strings.TrimSpace(brokerAddr)
	return netip.ParseAddrPort(addr)
}

// TopicBase returns the broker topic prefix (no leading slash) from topic_base.text.
func TopicBase() string {
	return strings.TrimSpace(topicBase)
}

// Hostname returns the DHCP hostname announced on the client interface.
func Hostname() string {
	return strings.TrimSpace(hostname)
}

// PublishInterval returns how often the telemetry document is published.
// Returns DefaultPublishInterval unless overridden via publish_interval.text.
func PublishInterval() time.Duration {
	if override := strings.TrimSpace(publishIntervalOverride); override != "" {
		if d, err := time.ParseDuration(override); err == nil {
			return d
		}
	}
	return DefaultPublishInterval
}

// SerialInterval returns the minimum spacing between inverter engine steps.
// Returns DefaultSerialInterval unless overridden via serial_interval.text.
func SerialInterval() time.Duration {
	if override := strings.TrimSpace(serialIntervalOverride); override != "" {
		if d, err := time.ParseDuration(override); err == nil {
			return d
		}
	}
	return DefaultSerialInterval
}

// SerialBaud returns the inverter UART baud rate.
// Returns DefaultSerialBaud unless overridden via serial_baud.text.
func SerialBaud() uint32 {
	if override := strings.TrimSpace(serialBaudOverride); override != "" {
		if n, err := strconv.Atoi(override); err == nil && n > 0 {
			return uint32(n)
		}
	}
	return DefaultSerialBaud
}

// APChannel returns the hotspot radio channel.
// Returns DefaultAPChannel unless overridden via ap_channel.text.
func APChannel() uint8 {
	if override := strings.TrimSpace(apChannelOverride); override != "" {
		if n, err := strconv.Atoi(override); err == nil && n >= 1 && n <= 11 {
			return uint8(n)
		}
	}
	return DefaultAPChannel
}
