package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// defaultMirrorCommandTimeout bounds one forwarded command when none is set.
const defaultMirrorCommandTimeout = 15 * time.Second

// Executor runs a command against the remote server. It is satisfied by
// client.Reconciler.
type Executor interface {
	Execute(ctx context.Context, entityID string, change entity.Change) (protocol.CommandResult, error)
}

// Mirror publishes a sync client's mirrored entities to a local platform
// over MQTT and forwards the platform's commands to the server.
//
// It is the counterpart of Host: mirrored snapshots go out retained on
// {prefix}/state/{entity_id}, commands arrive on {prefix}/command/{entity_id}
// and every command is answered on {prefix}/ack/{entity_id}.
//
// Thread Safety: all methods are safe for concurrent use. Each command runs
// on its own goroutine.
type Mirror struct {
	client  PubSub
	exec    Executor
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// NewMirror creates a mirror forwarding commands to exec. A timeout of zero
// uses the default.
func NewMirror(client PubSub, exec Executor, timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = defaultMirrorCommandTimeout
	}
	return &Mirror{
		client:  client,
		exec:    exec,
		timeout: timeout,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for publish and command failures.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// Start subscribes to the command topics. Commands in flight are cancelled
// when ctx is.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	m.mu.Unlock()

	topics := m.client.Topics()
	if err := m.client.Subscribe(topics.AllEntityCommands(), m.client.QoS(), m.handleCommand); err != nil {
		m.Stop() //nolint:errcheck // unsubscribe of a failed subscription
		return fmt.Errorf("subscribing to entity commands: %w", err)
	}
	return nil
}

// Stop unsubscribes and waits for commands in flight.
func (m *Mirror) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.cancel()
	m.mu.Unlock()

	err := m.client.Unsubscribe(m.client.Topics().AllEntityCommands())
	m.wg.Wait()
	return err
}

// Publish sends s as the retained state of its entity.
func (m *Mirror) Publish(s entity.Snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		m.logger.Warn("encoding mirrored entity failed", "entity_id", s.EntityID, "error", err)
		return
	}
	topic := m.client.Topics().EntityState(s.EntityID)
	if err := m.client.Publish(topic, payload, m.client.QoS(), true); err != nil {
		m.logger.Warn("publishing mirrored entity failed", "entity_id", s.EntityID, "error", err)
	}
}

// PublishAll publishes every snapshot, e.g. after the broker reconnects.
func (m *Mirror) PublishAll(snapshots []entity.Snapshot) {
	for _, s := range snapshots {
		m.Publish(s)
	}
}

// handleCommand decodes a command and executes it in the background.
func (m *Mirror) handleCommand(topic string, payload []byte) error {
	entityID, ok := m.client.Topics().EntityID(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var cmd commandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.logger.Warn("malformed mirror command", "topic", topic, "error", err)
		return fmt.Errorf("decoding command for %s: %w", entityID, err)
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.execute(ctx, entityID, cmd)
	}()
	return nil
}

func (m *Mirror) execute(ctx context.Context, entityID string, cmd commandMessage) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.exec.Execute(ctx, entityID, cmd.Change)

	ack := ackMessage{
		CorrelationID: cmd.CorrelationID,
		Success:       err == nil,
		Reason:        string(res.Reason),
		State:         res.Snapshot,
	}
	if err != nil {
		ack.Error = err.Error()
		m.logger.Debug("mirror command failed", "entity_id", entityID, "reason", res.Reason, "error", err)
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		m.logger.Warn("encoding command ack failed", "entity_id", entityID, "error", err)
		return
	}
	if err := m.client.Publish(m.client.Topics().EntityAck(entityID), payload, m.client.QoS(), false); err != nil {
		m.logger.Warn("publishing command ack failed", "entity_id", entityID, "error", err)
	}
}
