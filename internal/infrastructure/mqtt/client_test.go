package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
)

// testConfig returns a configuration for a broker at 127.0.0.1:1883.
// Tests needing a live broker skip when it is unavailable.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graysync-test",
		},
		QoS:         1,
		TopicPrefix: "graysync-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

// ─── Validation (no broker) ────────────────────────────────────────

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name  string
		topic string
		qos   byte
		data  []byte
		want  error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"bad qos", "t", 3, nil, ErrInvalidQoS},
		{"too large", "t", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "t", 1, []byte("x"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.data, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDispatch_RecoversPanicAndLogsErrors(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestStatusPayload(t *testing.T) {
	var msg map[string]string
	if err := json.Unmarshal([]byte(statusPayload("graysync", "offline", "graceful_shutdown")), &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg["status"] != "offline" || msg["reason"] != "graceful_shutdown" || msg["client_id"] != "graysync" {
		t.Errorf("payload = %v", msg)
	}

	if err := json.Unmarshal([]byte(statusPayload("graysync", "online", "")), &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "user"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "user" {
		t.Errorf("Username = %q, want %q", opts.Username, "user")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
}

// ─── Broker Tests ──────────────────────────────────────────────────

func TestConnect_InvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t)
	topics := client.Topics()

	received := make(chan string, 1)
	err := client.Subscribe(topics.AllEntityStates(), 1, func(topic string, _ []byte) error {
		id, _ := topics.EntityID(topic)
		received <- id
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(topics.EntityState("light.kitchen"), []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case id := <-received:
		if id != "light.kitchen" {
			t.Errorf("received id = %q, want light.kitchen", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
