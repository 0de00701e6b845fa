package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// Supervisor timing defaults.
const (
	defaultReconnectInterval = 30 * time.Second
	defaultDisconnectedAfter = 3
	defaultHandshakeTimeout  = 10 * time.Second
	defaultReadTimeout       = 45 * time.Second
	sweepInterval            = time.Second
	writeWait                = 10 * time.Second
)

// State is the supervisor's connection state.
type State int

// Connection states. Subscribed is the only state in which the mirror is
// available.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is an observable snapshot of the supervisor.
type Status struct {
	State State `json:"state"`

	// Disconnected is set after DisconnectedAfter consecutive failed
	// attempts and cleared by the next successful subscribe.
	Disconnected bool `json:"disconnected"`

	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	ClientID            string    `json:"client_id,omitempty"`
	ConnectedAt         time.Time `json:"connected_at,omitzero"`
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// ServerURL is the server's HTTP base URL including its base path,
	// e.g. http://server:8090/api/sync.
	ServerURL string
	Token     string

	ReconnectInterval time.Duration
	DisconnectedAfter int

	// ReadTimeout is how long a subscribed channel may stay silent before
	// it is treated as lost. Server pings and every frame reset it, so it
	// must exceed the server's ping interval.
	ReadTimeout time.Duration

	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Supervisor owns the Sync Channel and reconnects it after any failure.
//
// Each attempt runs Connecting → Authenticating → Subscribed from scratch.
// When an attempt ends, the session is discarded, every pending command
// fails, the mirror turns unavailable and the next attempt starts after a
// fixed interval.
type Supervisor struct {
	opts   SupervisorOptions
	wsURL  string
	rec    *Reconciler
	logger Logger

	mu        sync.RWMutex
	status    Status
	listeners []func(State)
}

// NewSupervisor creates a supervisor feeding rec.
//
// Returns an error if the server URL cannot be turned into a WebSocket URL.
func NewSupervisor(opts SupervisorOptions, rec *Reconciler) (*Supervisor, error) {
	wsURL, err := SyncURL(opts.ServerURL)
	if err != nil {
		return nil, err
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.DisconnectedAfter <= 0 {
		opts.DisconnectedAfter = defaultDisconnectedAfter
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = defaultHandshakeTimeout
		opts.Dialer = &d
	}

	return &Supervisor{
		opts:   opts,
		wsURL:  wsURL,
		rec:    rec,
		logger: noopLogger{},
		status: Status{State: StateDisconnected},
	}, nil
}

// SetLogger sets the logger for connection events.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// SyncURL derives the Sync Channel URL from the server's HTTP base URL.
func SyncURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("parsing server url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parsing server url: missing host in %q", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Status returns the current supervisor status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// OnStateChange registers fn to receive every state transition.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Run connects and keeps reconnecting until ctx is cancelled. It also runs
// the pending-command sweeper.
//
// Returns nil once ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		s.sweep(ctx)
	}()
	defer func() {
		<-sweepDone
		s.setState(StateStopped)
	}()

	for {
		err := s.session(ctx)
		s.teardown()
		if ctx.Err() != nil {
			return nil //nolint:nilerr // cancellation is a clean stop
		}
		s.recordFailure(err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.ReconnectInterval):
		}
	}
}

// session runs one connection attempt until it ends.
func (s *Supervisor) session(ctx context.Context) error {
	s.setState(StateConnecting)
	conn, _, err := s.opts.Dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close() //nolint:errcheck // unblocks the reader
	}()

	ch := &channel{conn: conn}

	s.setState(StateAuthenticating)
	clientID, err := s.authenticate(ch)
	if err != nil {
		return err
	}
	ch.keepAlive(s.opts.ReadTimeout)

	s.rec.SetSender(ch)
	s.mu.Lock()
	s.status.ConsecutiveFailures = 0
	s.status.Disconnected = false
	s.status.LastError = ""
	s.status.ClientID = clientID
	s.status.ConnectedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateSubscribed)
	s.logger.Info("sync channel subscribed", "client_id", clientID, "entities", len(s.rec.List()))

	return s.readLoop(ch)
}

// authenticate sends the token and waits for auth_ok and the snapshot.
func (s *Supervisor) authenticate(ch *channel) (string, error) {
	if err := ch.write(protocol.TypeAuth, "", protocol.AuthPayload{Token: s.opts.Token}); err != nil {
		return "", err
	}
	//nolint:errcheck // Best-effort deadline; a read error ends the attempt
	ch.conn.SetReadDeadline(time.Now().Add(defaultHandshakeTimeout))

	env, err := ch.read()
	if err != nil {
		return "", err
	}
	switch env.Type {
	case protocol.TypeAuthOK:
	case protocol.TypeAuthFailed:
		return "", ErrUnauthorized
	default:
		return "", fmt.Errorf("%w: expected auth_ok, got %s", ErrTransport, env.Type)
	}
	var ok protocol.AuthOKPayload
	if err := env.DecodePayload(&ok); err != nil {
		return "", fmt.Errorf("%w: auth_ok: %w", ErrTransport, err)
	}

	env, err = ch.read()
	if err != nil {
		return "", err
	}
	if env.Type != protocol.TypeSnapshot {
		return "", fmt.Errorf("%w: expected snapshot, got %s", ErrTransport, env.Type)
	}
	var snap protocol.SnapshotPayload
	if err := env.DecodePayload(&snap); err != nil {
		return "", fmt.Errorf("%w: snapshot: %w", ErrTransport, err)
	}
	s.rec.Apply(snap.Entities)
	return ok.ClientID, nil
}

// readLoop dispatches inbound frames until the channel fails.
func (s *Supervisor) readLoop(ch *channel) error {
	for {
		env, err := ch.read()
		if err != nil {
			return err
		}

		switch env.Type {
		case protocol.TypeStateUpdate:
			var snap entity.Snapshot
			if err := env.DecodePayload(&snap); err != nil {
				s.logger.Warn("ignoring malformed state_update", "error", err)
				continue
			}
			s.rec.HandleStateUpdate(snap)
		case protocol.TypeCommandResult:
			var res protocol.CommandResult
			if err := env.DecodePayload(&res); err != nil {
				s.logger.Warn("ignoring malformed command_result", "error", err)
				continue
			}
			if !s.rec.HandleCommandResult(res) {
				s.logger.Debug("late command_result ignored", "correlation_id", res.CorrelationID)
			}
		case protocol.TypeSnapshot:
			var snap protocol.SnapshotPayload
			if err := env.DecodePayload(&snap); err != nil {
				s.logger.Warn("ignoring malformed snapshot", "error", err)
				continue
			}
			s.rec.Apply(snap.Entities)
		case protocol.TypePing:
			if err := ch.write(protocol.TypePong, env.ID, nil); err != nil {
				return err
			}
		case protocol.TypePong:
		case protocol.TypeAuthFailed:
			return ErrUnauthorized
		case protocol.TypeError:
			var p protocol.ErrorPayload
			env.DecodePayload(&p) //nolint:errcheck // logged as-is
			s.logger.Warn("server reported error", "message", p.Message, "id", env.ID)
		default:
			s.logger.Debug("ignoring unknown frame", "type", env.Type)
		}
	}
}

// teardown discards the session's effects on the mirror.
func (s *Supervisor) teardown() {
	s.rec.SetSender(nil)
	if n := s.rec.FailAllPending(); n > 0 {
		s.logger.Info("failed pending commands on disconnect", "count", n)
	}
	s.rec.SetAvailable(false)
	s.setState(StateDisconnected)
}

func (s *Supervisor) recordFailure(err error) {
	s.mu.Lock()
	s.status.ConsecutiveFailures++
	s.status.LastError = errString(err)
	failures := s.status.ConsecutiveFailures
	flag := failures >= s.opts.DisconnectedAfter && !s.status.Disconnected
	if flag {
		s.status.Disconnected = true
	}
	s.mu.Unlock()

	if flag {
		s.logger.Warn("sync server unreachable", "failures", failures, "error", err)
		return
	}
	if errors.Is(err, ErrUnauthorized) {
		s.logger.Error("sync server rejected token", "failures", failures)
		return
	}
	s.logger.Info("sync channel lost, retrying", "failures", failures,
		"retry_in", s.opts.ReconnectInterval.String(), "error", err)
}

func (s *Supervisor) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.rec.ExpirePending(now); n > 0 {
				s.logger.Warn("pending commands timed out", "count", n)
			}
		}
	}
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	if s.status.State == next {
		s.mu.Unlock()
		return
	}
	s.status.State = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// channel is one client-side Sync Channel connection.
// Reads happen on the supervisor goroutine; writes are serialised by mu.
type channel struct {
	conn *websocket.Conn
	mu   sync.Mutex

	// idle is the read timeout once subscribed. Zero during the handshake.
	idle time.Duration
}

// keepAlive arms the idle read deadline. Server pings are answered and,
// like every other frame, push the deadline out.
func (c *channel) keepAlive(idle time.Duration) {
	c.idle = idle
	c.extend()
	c.conn.SetPingHandler(func(data string) error {
		c.extend()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})
}

func (c *channel) extend() {
	if c.idle > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.idle)) //nolint:errcheck // a failed read ends the session
	}
}

// SendCommand implements Sender.
func (c *channel) SendCommand(_ context.Context, cmd protocol.CommandPayload) error {
	return c.write(protocol.TypeCommand, cmd.CorrelationID, cmd)
}

func (c *channel) write(t protocol.MessageType, id string, payload any) error {
	data, err := protocol.Encode(t, id, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

func (c *channel) read() (protocol.Envelope, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		c.extend()
		env, err := protocol.Decode(data)
		if err != nil {
			// Skip frames that do not parse; the channel itself is fine.
			continue
		}
		return env, nil
	}
}
