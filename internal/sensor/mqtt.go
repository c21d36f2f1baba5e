package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

const DefaultTopicPrefix = "vrtrack/pose"

// MQTTConfig configures an MQTTSubscriber.
type MQTTConfig struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// PoseMessage is the JSON body published on <prefix>/<serial>.
type PoseMessage struct {
	TimestampNanos      int64      `json:"t"`
	Confidence          *float64   `json:"confidence"`
	Position            [3]float64 `json:"position"`
	Orientation         [4]float64 `json:"orientation"` // w, x, y, z
	LinearVelocity      [3]float64 `json:"linear_velocity"`
	AngularVelocity     [3]float64 `json:"angular_velocity"`
	LinearAcceleration  [3]float64 `json:"linear_acceleration"`
	AngularAcceleration [3]float64 `json:"angular_acceleration"`
}

// Pose converts the message into a tracking.Pose. Timestamp and confidence
// are mandatory.
func (m PoseMessage) Pose() (tracking.Pose, error) {
	if m.TimestampNanos == 0 {
		return tracking.Pose{}, errors.New("pose message without timestamp")
	}
	if m.Confidence == nil {
		return tracking.Pose{}, errors.New("pose message without confidence")
	}
	vec := func(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }
	return tracking.Pose{
		Position:            vec(m.Position),
		Orientation:         quat.Number{Real: m.Orientation[0], Imag: m.Orientation[1], Jmag: m.Orientation[2], Kmag: m.Orientation[3]},
		LinearVelocity:      vec(m.LinearVelocity),
		AngularVelocity:     vec(m.AngularVelocity),
		LinearAcceleration:  vec(m.LinearAcceleration),
		AngularAcceleration: vec(m.AngularAcceleration),
		TimestampNanos:      m.TimestampNanos,
		Confidence:          *m.Confidence,
	}, nil
}

// MQTTSubscriber ingests JSON pose samples from an MQTT broker.
type MQTTSubscriber struct {
	cfg    MQTTConfig
	sink   PoseSink
	client mqtt.Client

	Stats Stats
}

// NewMQTTSubscriber prepares a subscriber; Connect starts delivery.
func NewMQTTSubscriber(cfg MQTTConfig, sink PoseSink) *MQTTSubscriber {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "vrtrack-engine"
	}
	return &MQTTSubscriber{cfg: cfg, sink: sink}
}

// Topic returns the subscription filter.
func (s *MQTTSubscriber) Topic() string {
	return s.cfg.TopicPrefix + "/+"
}

// Connect dials the broker and subscribes to the pose topics.
func (s *MQTTSubscriber) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Resubscribe after reconnects.
			if token := c.Subscribe(s.Topic(), s.cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
				monitoring.Logf("[Sensor] MQTT subscribe to %s failed: %v", s.Topic(), token.Error())
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("[Sensor] MQTT connection lost: %v", err)
		})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.cfg.Broker, token.Error())
	}
	monitoring.Logf("[Sensor] connected to MQTT broker at %s, topic %s", s.cfg.Broker, s.Topic())
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSubscriber) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *MQTTSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
		monitoring.Logf("[Sensor] MQTT %s: %v", msg.Topic(), err)
	}
}

// HandleMessage decodes one published sample and delivers it to the sink.
func (s *MQTTSubscriber) HandleMessage(topic string, payload []byte) error {
	s.Stats.Packets.Add(1)
	s.Stats.Bytes.Add(int64(len(payload)))

	serial, ok := strings.CutPrefix(topic, s.cfg.TopicPrefix+"/")
	if !ok || serial == "" || strings.Contains(serial, "/") {
		s.Stats.Malformed.Add(1)
		return fmt.Errorf("unexpected topic %q", topic)
	}

	var m PoseMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		s.Stats.Malformed.Add(1)
		return fmt.Errorf("failed to unmarshal pose: %w", err)
	}
	pose, err := m.Pose()
	if err != nil {
		s.Stats.Malformed.Add(1)
		return err
	}
	if err := s.sink.IngestSerial(serial, pose); err != nil {
		s.Stats.Rejected.Add(1)
		return err
	}
	return nil
}
