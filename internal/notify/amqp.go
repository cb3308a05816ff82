package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/streadway/amqp"
)

var (
	ErrSinkReconnecting = errors.New("amqp sink is reconnecting")
	ErrSinkClosed       = errors.New("amqp sink is closed")
)

type amqpDialer func(url, exchange string) (*amqp.Connection, *amqp.Channel, error)

// AMQPSink publishes events to a topic exchange with routing keys of the
// form match.<id>.<kind>. When the broker drops the channel the sink redials
// in the background with capped exponential backoff; publishes fail with
// ErrSinkReconnecting until it is back.
type AMQPSink struct {
	url        string
	exchange   string
	dial       amqpDialer
	redialBase time.Duration
	redialMax  time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewAMQPSink(url, exchange string, logger zerolog.Logger) (*AMQPSink, error) {
	s := newAMQPSink(url, exchange, dialAMQP, logger)

	conn, channel, err := s.dial(url, exchange)
	if err != nil {
		return nil, err
	}
	s.attach(conn, channel)

	logger.Info().Str("exchange", exchange).Msg("amqp sink ready")
	return s, nil
}

func newAMQPSink(url, exchange string, dial amqpDialer, logger zerolog.Logger) *AMQPSink {
	return &AMQPSink{
		url:        url,
		exchange:   exchange,
		dial:       dial,
		redialBase: constants.AMQPRedialDelay,
		redialMax:  constants.AMQPRedialMax,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func dialAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return conn, channel, nil
}

// attach installs a fresh connection and starts watching its channel. It
// reports false when the sink was closed meanwhile.
func (s *AMQPSink) attach(conn *amqp.Connection, channel *amqp.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.conn, s.channel = conn, channel
	lost := channel.NotifyClose(make(chan *amqp.Error, 1))
	s.wg.Add(1)
	go s.watch(lost)
	return true
}

func (s *AMQPSink) watch(lost <-chan *amqp.Error) {
	defer s.wg.Done()

	var reason *amqp.Error
	select {
	case <-s.done:
		return
	case reason = <-lost:
	}
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	conn := s.conn
	s.conn, s.channel = nil, nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	l := s.logger.Warn()
	if reason != nil {
		l = l.Int("code", reason.Code).Str("reason", reason.Reason)
	}
	l.Msg("amqp channel lost, reconnecting")

	s.redial()
}

func (s *AMQPSink) redial() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := retry.WithCappedDuration(s.redialMax, retry.NewExponential(s.redialBase))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		conn, channel, err := s.dial(s.url, s.exchange)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("amqp redial failed")
			return retry.RetryableError(err)
		}
		if !s.attach(conn, channel) {
			channel.Close()
			conn.Close()
			return nil
		}
		s.logger.Info().Int("attempt", attempt).Msg("amqp sink reconnected")
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("amqp redial stopped")
	}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Publish(ctx context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrSinkClosed
	case s.channel == nil:
		return ErrSinkReconnecting
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", e.ID, err)
		}

		err = s.channel.Publish(s.exchange, RoutingKey(e), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.Timestamp,
			Type:         string(e.Kind),
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("failed to publish event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Close stops any redial in progress and closes the broker connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn, channel := s.conn, s.channel
	s.conn, s.channel = nil, nil
	s.mu.Unlock()

	var err error
	if channel != nil {
		channel.Close()
	}
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

// RoutingKey is match.<id>.<kind>. Dots inside the id are replaced so the
// key keeps exactly three words.
func RoutingKey(e domain.Event) string {
	id := strings.ReplaceAll(strings.ToLower(e.MatchID), ".", "_")
	return "match." + id + "." + string(e.Kind)
}
