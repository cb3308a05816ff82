package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cs2-tracker/internal/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
)

// MQTTSink publishes each event to <prefix>/<match id>.
type MQTTSink struct {
	prefix string
	client mqtt.Client
	logger zerolog.Logger
}

func NewMQTTSink(broker, prefix string, logger zerolog.Logger) (*MQTTSink, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nanoid: %w", err)
	}

	s := &MQTTSink{
		prefix: strings.TrimRight(prefix, "/"),
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("cs2-tracker-" + id)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", broker).Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, err)
	}
	return s, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Topic(e domain.Event) string {
	return s.prefix + "/" + strings.ToLower(e.MatchID)
}

func (s *MQTTSink) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", e.ID, err)
		}

		token := s.client.Publish(s.Topic(e), mqttQoS, false, body)
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				return fmt.Errorf("failed to publish event %s: %w", e.ID, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
