package influxdb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "t",
		Org:     "o",
		Bucket:  "b",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestDisconnectedClientIsNoop(t *testing.T) {
	var nilClient *Client
	if nilClient.IsConnected() {
		t.Error("nil client reports connected")
	}

	c := &Client{}
	c.RecordCommand("c1", "light.kitchen", "success", time.Millisecond)
	c.RecordSession("c1", "opened")
	c.Flush()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCommandPoint_LineProtocol(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	line := write.PointToLineProtocol(
		commandPoint("c1", "light.kitchen", "not_exposed", 1500*time.Microsecond, ts),
		time.Nanosecond,
	)

	for _, want := range []string{
		"sync_commands,",
		"client_id=c1",
		"entity_id=light.kitchen",
		"outcome=not_exposed",
		"latency_ms=1.5",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestSessionPoint_LineProtocol(t *testing.T) {
	line := write.PointToLineProtocol(sessionPoint("c1", "closed", time.Unix(0, 0)), time.Nanosecond)
	if !strings.HasPrefix(line, "sync_sessions,client_id=c1,event=closed") {
		t.Errorf("line protocol = %q", line)
	}
}
