// Package broker maintains the MQTT session: connecting with backoff while
// the network link is up, holding the control-topic subscription, and
// publishing the retained presence topics and the telemetry document.
package broker

import (
	"log/slog"
	"time"
)

const (
	// connectRetryInterval spaces connect attempts against an unreachable
	// broker.
	connectRetryInterval = 5 * time.Second
	// pollRetryInterval spaces reconnects after an established session
	// drops mid-poll.
	pollRetryInterval = 3 * time.Second
)

// Client is the MQTT transport the session drives. Connect and Subscribe may
// block briefly but must be internally bounded; Poll must return promptly
// whether or not traffic arrived.
type Client interface {
	Connect(clientID string) error
	Subscribe(topic string) error
	Publish(topic string, payload []byte, retain bool) error
	Poll() error
	Disconnect()
}

// Config carries the session identity and wiring.
type Config struct {
	// ClientID doubles as the device identity on the broker; the MAC in
	// hex keeps parallel units distinct.
	ClientID  string
	TopicBase string
	// OnCommand receives the payload of each message on the control topic.
	OnCommand func(payload string)
}

// Session is the connection state machine. Single-writer from the tick
// worker, like the rest of the gateway.
type Session struct {
	client Client
	log    *slog.Logger
	cfg    Config

	topicAlive   string
	topicIP      string
	topicData    string
	topicControl string

	connected  bool
	subscribed bool
	haveRetry  bool
	retryAt    time.Time
	reconnect  bool
}

// New returns a disconnected session. Topic layout:
//
//	<base>/Alive                              retained "true"
//	<base>/IP                                 retained current address
//	<base>/Data                               telemetry document
//	<base>/DeviceControl/<clientID>/Set_Command  inbound commands
func New(client Client, logger *slog.Logger, cfg Config) *Session {
	return &Session{
		client:       client,
		log:          logger,
		cfg:          cfg,
		topicAlive:   cfg.TopicBase + "/Alive",
		topicIP:      cfg.TopicBase + "/IP",
		topicData:    cfg.TopicBase + "/Data",
		topicControl: cfg.TopicBase + "/DeviceControl/" + cfg.ClientID + "/Set_Command",
	}
}

// Connected reports whether the session is established.
func (s *Session) Connected() bool { return s.connected }

// AliveTopic returns the retained presence topic.
func (s *Session) AliveTopic() string { return s.topicAlive }

// IPTopic returns the retained address topic.
func (s *Session) IPTopic() string { return s.topicIP }

// DataTopic returns the telemetry topic.
func (s *Session) DataTopic() string { return s.topicData }

// ControlTopic returns the inbound command topic.
func (s *Session) ControlTopic() string { return s.topicControl }

// RequestReconnect schedules an immediate connect attempt on the next Step,
// bypassing any backoff. Called when the network link comes up.
func (s *Session) RequestReconnect() { s.reconnect = true }

// Step advances the session one tick. With the link down the session is torn
// down and nothing else happens; connect attempts resume once linkUp returns.
func (s *Session) Step(now time.Time, linkUp bool) {
	if !linkUp {
		if s.connected {
			s.client.Disconnect()
			s.connected = false
			s.subscribed = false
			s.log.Info("mqtt:disconnected", slog.String("reason", "link down"))
		}
		return
	}

	if !s.connected {
		if !s.reconnect && s.haveRetry && now.Before(s.retryAt) {
			return
		}
		s.reconnect = false
		s.connect(now)
		return
	}

	if err := s.client.Poll(); err != nil {
		s.demote(now, pollRetryInterval, "poll", err)
	}
}

func (s *Session) connect(now time.Time) {
	if err := s.client.Connect(s.cfg.ClientID); err != nil {
		s.haveRetry = true
		s.retryAt = now.Add(connectRetryInterval)
		s.log.Warn("mqtt:connect-failed", slog.String("err", err.Error()))
		return
	}
	s.connected = true
	s.log.Info("mqtt:connected", slog.String("clientid", s.cfg.ClientID))

	if err := s.client.Subscribe(s.topicControl); err != nil {
		s.demote(now, connectRetryInterval, "subscribe", err)
		return
	}
	s.subscribed = true
	s.log.Info("mqtt:subscribed", slog.String("topic", s.topicControl))
}

// Publish sends one message when the session is up. It reports false when
// disconnected or when the send itself failed; the caller retries on its own
// schedule, the session never queues.
func (s *Session) Publish(now time.Time, topic string, payload []byte, retain bool) bool {
	if !s.connected {
		return false
	}
	if err := s.client.Publish(topic, payload, retain); err != nil {
		s.demote(now, pollRetryInterval, "publish", err)
		return false
	}
	return true
}

// HandleMessage routes an inbound message: only non-empty payloads on the
// control topic reach the command callback.
func (s *Session) HandleMessage(topic string, payload []byte) {
	if topic != s.topicControl || len(payload) == 0 {
		return
	}
	s.log.Info("mqtt:command", slog.Int("bytes", len(payload)))
	if s.cfg.OnCommand != nil {
		s.cfg.OnCommand(string(payload))
	}
}

func (s *Session) demote(now time.Time, backoff time.Duration, op string, err error) {
	s.client.Disconnect()
	s.connected = false
	s.subscribed = false
	s.haveRetry = true
	s.retryAt = now.Add(backoff)
	s.log.Warn("mqtt:session-lost",
		slog.String("op", op),
		slog.String("err", err.Error()),
	)
}
