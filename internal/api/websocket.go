package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/dispatch"
	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/exposure"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// Sync Channel constants.
const (
	// defaultSendBuffer is the per-session outbound queue size when none is configured.
	defaultSendBuffer = 256

	// defaultAuthTimeout bounds the auth handshake when none is configured.
	defaultAuthTimeout = 10 * time.Second
)

// Session lifecycle events reported to the SessionRecorder.
const (
	sessionOpened = "opened"
	sessionClosed = "closed"
)

var (
	errSessionClosed = errors.New("api: session closed")
	errSlowConsumer  = errors.New("api: session queue full")
)

// Hub tracks subscribed Sync Channel sessions and fans out frames to them.
//
// Lock ordering: a session lock may be held while taking the hub lock, never
// the reverse. Fan-out copies the session list under the hub lock and
// releases it before touching any session.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	sessions map[*Session]struct{}
	mu       sync.RWMutex
}

// Session is one server-side Sync Channel.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu           sync.Mutex
	clientID     string
	state        protocol.ChannelState
	subscription map[string]struct{}
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Sync clients are servers, not browsers; the token is the gate.
		return true
	},
}

// NewHub creates a new session hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// add registers a session. The caller holds the session lock and has
// checked that the session is not closed.
func (h *Hub) add(sess *Session) {
	h.mu.Lock()
	h.sessions[sess] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("sync session subscribed", "client_id", sess.clientID, "sessions", n)
}

// Unregister removes a session. It is safe to call more than once.
func (h *Hub) Unregister(sess *Session) {
	h.mu.Lock()
	_, existed := h.sessions[sess]
	delete(h.sessions, sess)
	n := len(h.sessions)
	h.mu.Unlock()

	if existed {
		h.logger.Debug("sync session removed", "sessions", n)
	}
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for sess := range h.sessions {
		out = append(out, sess)
	}
	return out
}

// Broadcast enqueues data on every subscribed session whose subscription
// contains entityID. A session whose queue is full is closed; the client
// reconnects and receives a fresh snapshot.
//
// Returns the number of sessions the frame was queued on.
func (h *Hub) Broadcast(entityID string, data []byte) int {
	sent := 0
	for _, sess := range h.snapshot() {
		err := sess.enqueueIfSubscribed(entityID, data)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, errSlowConsumer):
			h.logger.Warn("closing slow sync session", "client_id", sess.ClientID())
			sess.Close()
		}
	}
	return sent
}

// CloseClient sends auth_failed to and closes every session of clientID.
func (h *Hub) CloseClient(clientID string) {
	for _, sess := range h.snapshot() {
		if sess.ClientID() != clientID {
			continue
		}
		sess.fail()
		h.logger.Info("sync session closed by revocation", "client_id", clientID)
	}
}

// Resubscribe replaces every session's subscription with the readable
// entities of set and sends each a fresh snapshot.
func (h *Hub) Resubscribe(ctx context.Context, set *exposure.Set, host entity.Host) {
	for _, sess := range h.snapshot() {
		if err := sess.resubscribe(ctx, set, host); errors.Is(err, errSlowConsumer) {
			sess.Close()
		}
	}
}

// ClientCount returns the number of subscribed sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SessionsFor returns the number of subscribed sessions owned by clientID.
func (h *Hub) SessionsFor(clientID string) int {
	n := 0
	for _, sess := range h.snapshot() {
		if sess.ClientID() == clientID {
			n++
		}
	}
	return n
}

// closeAll closes every session so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	for _, sess := range h.snapshot() {
		sess.Close()
	}
}

func newSession(hub *Hub, conn *websocket.Conn, buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Session{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, buffer),
		state: protocol.StateConnecting,
	}
}

// ClientID returns the authenticated client, or "" before authentication.
func (c *Session) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// State returns the channel state.
func (c *Session) State() protocol.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close moves the session to Closed, releases its queue and removes it from
// the hub. Frames already queued are still written before the close frame.
func (c *Session) Close() {
	c.mu.Lock()
	if c.state == protocol.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = protocol.StateClosed
	close(c.send)
	c.mu.Unlock()

	c.hub.Unregister(c)
}

// fail queues an auth_failed frame and closes the session.
func (c *Session) fail() {
	c.sendFrame(protocol.TypeAuthFailed, "", protocol.AuthFailedPayload{Reason: protocol.ReasonUnauthorized}) //nolint:errcheck // closing regardless
	c.Close()
}

func (c *Session) transition(next protocol.ChannelState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransition(next) {
		return false
	}
	c.state = next
	return true
}

// enqueueLocked queues data without blocking. The caller holds c.mu.
func (c *Session) enqueueLocked(data []byte) error {
	if c.state == protocol.StateClosed {
		return errSessionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *Session) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(data)
}

func (c *Session) enqueueIfSubscribed(entityID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != protocol.StateSubscribed {
		return errSessionClosed
	}
	if _, ok := c.subscription[entityID]; !ok {
		return errSessionClosed
	}
	return c.enqueueLocked(data)
}

// sendFrame encodes and queues one frame. A full queue closes the session.
func (c *Session) sendFrame(t protocol.MessageType, id string, payload any) error {
	data, err := protocol.Encode(t, id, payload)
	if err != nil {
		return err
	}
	err = c.enqueue(data)
	if errors.Is(err, errSlowConsumer) {
		c.Close()
	}
	return err
}

// subscribe moves an authenticated session to Subscribed. Registration with
// the hub, the subscription and the initial snapshot happen under the
// session lock, so no state_update can be queued ahead of the snapshot.
func (c *Session) subscribe(ctx context.Context, clientID string, set *exposure.Set, host entity.Host) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CanTransition(protocol.StateSubscribed) {
		return errSessionClosed
	}
	c.clientID = clientID
	c.subscription = set.ReadableSet()
	c.state = protocol.StateSubscribed
	c.hub.add(c)

	okFrame, err := protocol.Encode(protocol.TypeAuthOK, "", protocol.AuthOKPayload{ClientID: clientID})
	if err != nil {
		return err
	}
	if err := c.enqueueLocked(okFrame); err != nil {
		return err
	}
	return c.enqueueSnapshotLocked(ctx, set, host)
}

func (c *Session) resubscribe(ctx context.Context, set *exposure.Set, host entity.Host) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != protocol.StateSubscribed {
		return errSessionClosed
	}
	c.subscription = set.ReadableSet()
	return c.enqueueSnapshotLocked(ctx, set, host)
}

func (c *Session) enqueueSnapshotLocked(ctx context.Context, set *exposure.Set, host entity.Host) error {
	entities, err := readableSnapshots(ctx, host, set)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(protocol.TypeSnapshot, "", protocol.SnapshotPayload{Entities: entities})
	if err != nil {
		return err
	}
	return c.enqueueLocked(data)
}

// handleWebSocket upgrades the connection and runs the Sync Channel until
// it closes. Authentication happens in-band with the first frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(s.hub, conn, s.wsCfg.SendBuffer)
	go sess.writePump(s.wsCfg)
	s.serveSession(r.Context(), sess)
}

// serveSession runs the read side of a session: auth handshake, subscribe,
// then inbound frames until the connection ends.
func (s *Server) serveSession(ctx context.Context, sess *Session) {
	defer sess.Close()

	if s.wsCfg.MaxMessageSize > 0 {
		sess.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}

	rec, ok := s.authenticateSession(sess)
	if !ok {
		return
	}
	setRequestClient(ctx, rec.ID)

	if err := sess.subscribe(ctx, rec.ID, s.exposure.Current(), s.host); err != nil {
		s.logger.Warn("sync session subscribe failed", "client_id", rec.ID, "error", err)
		return
	}
	// A revoke that landed between validation and registration.
	if s.auth.IsRevoked(rec.ID) {
		sess.fail()
		return
	}

	s.logger.Info("sync session opened", "client_id", rec.ID, "name", rec.Name)
	if s.sessions != nil {
		s.sessions.RecordSession(rec.ID, sessionOpened)
		defer s.sessions.RecordSession(rec.ID, sessionClosed)
	}

	s.readLoop(ctx, sess)
	s.logger.Info("sync session closed", "client_id", rec.ID)
}

// authenticateSession reads the auth frame within the auth timeout.
func (s *Server) authenticateSession(sess *Session) (*auth.ClientRecord, bool) {
	if !sess.transition(protocol.StateAuthenticating) {
		return nil, false
	}

	timeout := time.Duration(s.wsCfg.AuthTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}
	//nolint:errcheck // Best-effort deadline; a read error ends the handshake
	sess.conn.SetReadDeadline(time.Now().Add(timeout))

	_, data, err := sess.conn.ReadMessage()
	if err != nil {
		s.logger.Debug("sync session ended before auth", "error", err)
		return nil, false
	}

	env, err := protocol.Decode(data)
	var payload protocol.AuthPayload
	if err == nil && env.Type != protocol.TypeAuth {
		err = protocol.ErrMalformed
	}
	if err == nil {
		err = env.DecodePayload(&payload)
	}
	if err != nil {
		s.logger.Warn("sync session auth frame rejected", "error", err)
		sess.fail()
		return nil, false
	}

	rec, err := s.auth.Validate(context.Background(), payload.Token)
	if err != nil {
		// The reason is logged here and never sent to the peer.
		s.logger.Warn("sync session auth failed",
			"reason", auth.ReasonOf(err),
			"client_id", clientIDOf(err),
		)
		sess.fail()
		return nil, false
	}
	return rec, true
}

// readLoop processes inbound frames of a subscribed session.
func (s *Server) readLoop(ctx context.Context, sess *Session) {
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline
	sess.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("sync session read error", "client_id", sess.ClientID(), "error", err)
			} else {
				s.logger.Debug("sync session read ended", "client_id", sess.ClientID(), "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		sess.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		if !s.handleSessionMessage(ctx, sess, message) {
			return
		}
	}
}

// handleSessionMessage processes one inbound frame and reports whether the
// session should stay open.
func (s *Server) handleSessionMessage(ctx context.Context, sess *Session, data []byte) bool {
	clientID := sess.ClientID()

	// Revocation is re-checked on every inbound frame.
	if s.auth.IsRevoked(clientID) {
		s.logger.Info("closing sync session of revoked client", "client_id", clientID)
		sess.fail()
		return false
	}

	env, err := protocol.Decode(data)
	if err != nil {
		return sess.sendFrame(protocol.TypeError, "", protocol.ErrorPayload{Message: "invalid message"}) == nil
	}

	switch env.Type {
	case protocol.TypeCommand:
		var cmd protocol.CommandPayload
		if err := env.DecodePayload(&cmd); err != nil {
			return sess.sendFrame(protocol.TypeError, env.ID, protocol.ErrorPayload{Message: "invalid command payload"}) == nil
		}
		result, err := s.dispatcher.Handle(ctx, clientID, cmd)
		sendErr := sess.sendFrame(protocol.TypeCommandResult, env.ID, result)
		if errors.Is(err, dispatch.ErrRevoked) {
			sess.fail()
			return false
		}
		return sendErr == nil
	case protocol.TypePing:
		return sess.sendFrame(protocol.TypePong, env.ID, nil) == nil
	case protocol.TypePong:
		return true
	case protocol.TypeAuth:
		return sess.sendFrame(protocol.TypeError, env.ID, protocol.ErrorPayload{Message: "already authenticated"}) == nil
	default:
		return sess.sendFrame(protocol.TypeError, env.ID, protocol.ErrorPayload{Message: "unknown message type: " + string(env.Type)}) == nil
	}
}

// writePump is the only writer on the connection. It exits when the queue
// is closed, after writing every frame still queued and a close frame.
func (c *Session) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// clientIDOf returns the client id carried by an auth error, if any.
func clientIDOf(err error) string {
	var ae *auth.AuthError
	if errors.As(err, &ae) {
		return ae.ClientID
	}
	return ""
}
