package broker

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

const (
	natiuBufSize = 512
	// connectTimeout bounds the CONNECT/CONNACK handshake.
	connectTimeout = 5 * time.Second
	// pollWindow is how long one Poll waits for inbound bytes before
	// reporting quiet. Short: Poll runs on every scheduler tick.
	pollWindow = 50 * time.Millisecond
)

// Stream is one byte stream to the broker. The read deadline makes
// HandleNext interruptible so Poll never stalls the tick worker.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Dialer opens a fresh Stream per session.
type Dialer interface {
	Dial() (Stream, error)
}

// NatiuClient implements Client over natiu-mqtt with a zero-allocation
// decoder and preallocated payload buffers.
type NatiuClient struct {
	dialer Dialer
	log    *slog.Logger

	// OnMessage receives every inbound PUBLISH. Set before Connect.
	OnMessage func(topic string, payload []byte)

	client   *mqtt.Client
	stream   Stream
	packetID uint16

	userBuf    [natiuBufSize]byte
	payloadBuf [natiuBufSize]byte
}

var _ Client = (*NatiuClient)(nil)

// NewNatiuClient returns a disconnected client over dialer.
func NewNatiuClient(dialer Dialer, logger *slog.Logger) *NatiuClient {
	return &NatiuClient{dialer: dialer, log: logger}
}

// Connect dials the broker and completes the MQTT handshake. Bounded by
// connectTimeout.
func (c *NatiuClient) Connect(clientID string) error {
	stream, err := c.dialer.Dial()
	if err != nil {
		return err
	}

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: c.userBuf[:]},
		OnPub:   c.onPub,
	})

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(clientID))

	stream.SetReadDeadline(time.Now().Add(connectTimeout))
	if err := client.StartConnect(stream, &varconn); err != nil {
		stream.Close()
		return err
	}

	deadline := time.Now().Add(connectTimeout)
	for !client.IsConnected() && time.Now().Before(deadline) {
		stream.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if err := client.HandleNext(); err != nil && !isTimeout(err) {
			c.log.Debug("mqtt:handle-next", slog.String("err", err.Error()))
		}
	}
	if !client.IsConnected() {
		client.Disconnect(errors.New("connack timeout"))
		stream.Close()
		return errors.New("broker: connack timeout")
	}

	c.client = client
	c.stream = stream
	return nil
}

// Subscribe issues a QoS0 subscription and drains the acknowledgement.
func (c *NatiuClient) Subscribe(topic string) error {
	if c.client == nil {
		return errors.New("broker: not connected")
	}
	c.stream.SetReadDeadline(time.Now().Add(connectTimeout))
	err := c.client.StartSubscribe(mqtt.VariablesSubscribe{
		PacketIdentifier: c.nextPacketID(),
		TopicFilters: []mqtt.SubscribeRequest{
			{TopicFilter: []byte(topic), QoS: mqtt.QoS0},
		},
	})
	if err != nil {
		return err
	}
	// The SUBACK rides in with other traffic; give it a few reads.
	for i := 0; i < 5; i++ {
		c.stream.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if err := c.client.HandleNext(); err != nil && !isTimeout(err) {
			return err
		}
	}
	return nil
}

// Publish sends one QoS0 message.
func (c *NatiuClient) Publish(topic string, payload []byte, retain bool) error {
	if c.client == nil {
		return errors.New("broker: not connected")
	}
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, retain)
	if err != nil {
		return err
	}
	return c.client.PublishPayload(flags, mqtt.VariablesPublish{
		TopicName:        []byte(topic),
		PacketIdentifier: c.nextPacketID(),
	}, payload)
}

// Poll processes at most one inbound packet. A quiet wire is not an error.
func (c *NatiuClient) Poll() error {
	if c.client == nil {
		return errors.New("broker: not connected")
	}
	c.stream.SetReadDeadline(time.Now().Add(pollWindow))
	err := c.client.HandleNext()
	if err == nil || isTimeout(err) {
		if !c.client.IsConnected() {
			return errors.New("broker: connection lost")
		}
		return nil
	}
	return err
}

// Disconnect tears the session down. Safe to call repeatedly.
func (c *NatiuClient) Disconnect() {
	if c.client != nil {
		c.client.Disconnect(errors.New("session closed"))
		c.client = nil
	}
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}

func (c *NatiuClient) onPub(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
	n, err := r.Read(c.payloadBuf[:])
	if err != nil && err != io.EOF {
		return err
	}
	if c.OnMessage != nil {
		c.OnMessage(string(varPub.TopicName), c.payloadBuf[:n])
	}
	return nil
}

func (c *NatiuClient) nextPacketID() uint16 {
	c.packetID++
	if c.packetID == 0 {
		c.packetID = 1
	}
	return c.packetID
}

// isTimeout reports whether err is a read-deadline expiry rather than a
// broken stream.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
