package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

// MQTTConfig configures an MQTT source. Records are published to {Topic}/{key} with the raw
// record JSON as payload; an empty payload removes the key.
type MQTTConfig struct {
	Broker         string // e.g. tcp://localhost:1883
	ClientID       string
	Topic          string
	Username       string
	Password       string
	QoS            byte
	Limit          int
	ConnectTimeout time.Duration
}

// MQTTSource subscribes to sensor records on an MQTT broker.
type MQTTSource struct {
	cfg    MQTTConfig
	logger *zap.Logger
}

func NewMQTTSource(cfg MQTTConfig, logger *zap.Logger) (*MQTTSource, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	cfg.Topic = strings.Trim(cfg.Topic, "/")
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if strings.ContainsAny(cfg.Topic, "+#") {
		return nil, fmt.Errorf("mqtt topic %q must not contain wildcards", cfg.Topic)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sensor-dashboard-" + uuid.NewString()[:8]
	}
	cfg.Limit = normalizeLimit(cfg.Limit)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSource{cfg: cfg, logger: logger}, nil
}

func (s *MQTTSource) filter() string {
	return s.cfg.Topic + "/+"
}

func (s *MQTTSource) clientOptions(sub *mqttSubscription) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	// Subscriptions are single-shot.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost, not reconnecting", zap.Error(err))
		sub.fail(fmt.Errorf("%w: %v", ErrConnectionLost, err))
	})
	return opts
}

// Subscribe connects to the broker and subscribes to {Topic}/+. The current window, empty at
// first, is delivered once the subscription is acknowledged.
func (s *MQTTSource) Subscribe(ctx context.Context, sink Sink) (Subscription, error) {
	sub := &mqttSubscription{
		prefix: s.cfg.Topic + "/",
		filter: s.filter(),
		sink:   sink,
		logger: s.logger,
		window: newWindow(s.cfg.Limit),
	}
	client := mqtt.NewClient(s.clientOptions(sub))
	sub.client = client

	if err := waitToken(ctx, client.Connect(), s.cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: %w", connectError(err))
	}

	token := client.Subscribe(sub.filter, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		sub.handleMessage(msg.Topic(), msg.Payload())
	})
	if err := waitToken(ctx, token, s.cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribe to %s: %w", sub.filter, err)
	}

	s.logger.Info("feed subscription opened",
		zap.String("source", "mqtt"),
		zap.String("broker", s.cfg.Broker),
		zap.String("topic", sub.filter),
		zap.Int("limit", s.cfg.Limit),
	)
	sub.publish()
	return sub, nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}

func connectError(err error) error {
	if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

type mqttSubscription struct {
	prefix string
	filter string
	sink   Sink
	logger *zap.Logger
	client mqtt.Client

	mu     sync.Mutex
	window *window
	closed bool

	once sync.Once
}

func (s *mqttSubscription) handleMessage(topic string, payload []byte) {
	key, ok := strings.CutPrefix(topic, s.prefix)
	if !ok || key == "" || strings.Contains(key, "/") {
		s.logger.Debug("ignoring mqtt message outside feed topic", zap.String("topic", topic))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		s.window.remove(key)
	} else {
		s.window.put(key, s.decodeRecord(topic, payload))
	}
	s.sink.Snapshot(s.window.snapshot())
}

// decodeRecord returns nil for payloads that are not a JSON object; the key still occupies
// its slot and the record is discarded during normalization.
func (s *mqttSubscription) decodeRecord(topic string, payload []byte) sensor.RawRecord {
	v, err := decodeValue(payload)
	if err != nil {
		s.logger.Debug("undecodable mqtt payload", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	return toRecord(v)
}

func (s *mqttSubscription) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sink.Snapshot(s.window.snapshot())
}

func (s *mqttSubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.sink.Fail(err)
}

func (s *mqttSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.client == nil {
			return
		}
		if s.client.IsConnected() {
			s.client.Unsubscribe(s.filter).WaitTimeout(2 * time.Second)
		}
		s.client.Disconnect(250)
	})
}
