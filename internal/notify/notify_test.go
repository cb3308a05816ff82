package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cs2-tracker/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"go.uber.org/atomic"
)

func event(id, matchID string, importance int) domain.Event {
	return domain.Event{
		ID:         id,
		Kind:       domain.EventScoreChanged,
		MatchID:    matchID,
		Importance: importance,
		Timestamp:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestSubscriptionWants(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		e    domain.Event
		want bool
	}{
		{"empty subscription takes everything", Subscription{}, event("a", "123", 1), true},
		{"below threshold", Subscription{MinImportance: 4}, event("a", "123", 3), false},
		{"at threshold", Subscription{MinImportance: 4}, event("a", "123", 4), true},
		{"other match", clientMessage{MatchIDs: []string{"456"}}.subscription(), event("a", "123", 5), false},
		{"match id is case insensitive", clientMessage{MatchIDs: []string{" NAVI "}}.subscription(), event("a", "navi", 5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.wants(tt.e); got != tt.want {
				t.Errorf("want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRoutingKey(t *testing.T) {
	e := domain.Event{MatchID: "IEM.2371234", Kind: domain.EventMatchEnded}
	if got := RoutingKey(e); got != "match.iem_2371234.match-ended" {
		t.Errorf("unexpected routing key %q", got)
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("want %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversFilteredEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(zerolog.Nop())
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	all := dial(t, srv, "")
	navi := dial(t, srv, "match_id=navi&min_importance=4")
	waitForClients(t, h, 2)

	err := h.Publish(ctx, []domain.Event{
		event("e1", "navi", 3),
		event("e2", "faze", 5),
		event("e3", "navi", 5),
	})
	if err != nil {
		t.Fatal(err)
	}

	read := func(conn *websocket.Conn) string {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg.Event.ID
	}

	for _, want := range []string{"e1", "e2", "e3"} {
		if got := read(all); got != want {
			t.Errorf("unfiltered client: want %s, got %s", want, got)
		}
	}
	if got := read(navi); got != "e3" {
		t.Errorf("filtered client: want e3, got %s", got)
	}
}

func TestClientSubscribeMessage(t *testing.T) {
	c := &client{hub: NewHub(zerolog.Nop())}

	c.handleMessage([]byte(`{"type":"subscribe","match_ids":["FaZe"],"min_importance":4}`))
	sub := c.subscription()
	if !sub.MatchIDs["faze"] || sub.MinImportance != 4 {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if sub.wants(event("e", "navi", 5)) || !sub.wants(event("e", "faze", 4)) {
		t.Error("subscription filter not applied")
	}

	c.handleMessage([]byte(`not json`))
	if !c.subscription().MatchIDs["faze"] {
		t.Error("malformed message must leave the subscription alone")
	}

	c.handleMessage([]byte(`{"type":"unsubscribe"}`))
	if sub := c.subscription(); len(sub.MatchIDs) != 0 || sub.MinImportance != 0 {
		t.Errorf("want cleared subscription, got %+v", sub)
	}
}

type fakeSink struct {
	name string
	err  error

	mu  sync.Mutex
	got []domain.Event
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Publish(_ context.Context, evs []domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, evs...)
	return f.err
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: errors.New("broker down")}
	f := NewFanout(zerolog.Nop(), good, nil, bad)

	if got := f.Sinks(); len(got) != 2 {
		t.Fatalf("nil sink must be ignored, got %v", got)
	}

	err := f.Publish(context.Background(), []domain.Event{event("e1", "navi", 3)})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("want error naming failing sink, got %v", err)
	}
	if len(good.got) != 1 || len(bad.got) != 1 {
		t.Errorf("every sink must receive the batch: good=%d bad=%d", len(good.got), len(bad.got))
	}

	if err := f.Publish(context.Background(), nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func TestAMQPSinkRedialsUntilClosed(t *testing.T) {
	var dials atomic.Int32
	refuse := func(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
		dials.Inc()
		return nil, nil, errors.New("connection refused")
	}
	s := newAMQPSink("amqp://broker", "cs2.events", refuse, zerolog.Nop())
	s.redialBase = time.Millisecond
	s.redialMax = 5 * time.Millisecond

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.redial()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for dials.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("want repeated redials, got %d", dials.Load())
		}
		time.Sleep(time.Millisecond)
	}

	err := s.Publish(context.Background(), []domain.Event{event("e1", "navi", 3)})
	if !errors.Is(err, ErrSinkReconnecting) {
		t.Errorf("want ErrSinkReconnecting while the broker is away, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	after := dials.Load()
	time.Sleep(20 * time.Millisecond)
	if dials.Load() != after {
		t.Error("redial kept running after close")
	}
	if err := s.Publish(context.Background(), nil); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("want ErrSinkClosed, got %v", err)
	}
}
