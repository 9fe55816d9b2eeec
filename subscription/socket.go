package subscription

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// defaultMaxReconnectFailures caps consecutive connection failures before
// the receive loop gives up and terminates every session. The counter
// advances once per lost connection and once per failed redial, and resets
// on the first successful receive; a cap of 1 therefore gives up at the
// first connection loss without redialing.
const defaultMaxReconnectFailures = 10

// Socket is the single WebSocket connection shared by all of a client's
// subscriptions. One receive-loop goroutine owns the connection and
// multiplexes frames to per-session queues by session id; reconnection and
// resubmission happen inside that loop.
type Socket struct {
	url           string
	authorization string
	dialer        *websocket.Dialer
	logger        *slog.Logger
	metrics       *Metrics

	maxFailures int

	mu          sync.Mutex // guards conn, sessions, connectedAt, loopStarted
	conn        *websocket.Conn
	connectedAt time.Time
	sessions    map[string]*Session
	loopStarted bool

	// writeMu serializes frame writes; gorilla/websocket forbids concurrent
	// writers.
	writeMu sync.Mutex

	closed atomic.Bool
}

func newSocket(wsURL, authorization string, dialer *websocket.Dialer, logger *slog.Logger, metrics *Metrics, maxFailures int) *Socket {
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	dialer.Subprotocols = []string{subProtocol}
	if maxFailures <= 0 {
		maxFailures = defaultMaxReconnectFailures
	}
	return &Socket{
		url:           wsURL,
		authorization: authorization,
		dialer:        dialer,
		logger:        logger,
		metrics:       metrics,
		maxFailures:   maxFailures,
		sessions:      make(map[string]*Session),
	}
}

// subscribe registers a new session and sends its start frame, dialing the
// connection first if this is the first subscription.
func (s *Socket) subscribe(query string, variables map[string]any, headers map[string]string, cb Callback) (*Session, error) {
	if s.closed.Load() {
		return nil, errors.WrapFatal(errors.ErrSocketClosed, "Socket", "subscribe", "register session")
	}

	s.mu.Lock()
	if s.conn == nil {
		if err := s.dialLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	if !s.loopStarted {
		s.loopStarted = true
		go s.readLoop()
	}

	id := uuid.NewString()
	session := newSession(s, id, startPayload{
		Headers:   headers,
		Query:     query,
		Variables: variables,
	}, cb)
	s.sessions[id] = session
	s.mu.Unlock()

	start, err := newStartFrame(id, session.start)
	if err != nil {
		s.removeSession(session)
		session.terminate()
		return nil, errors.WrapInvalid(err, "Socket", "subscribe", "encode start frame")
	}
	if err := s.writeFrame(start); err != nil {
		s.removeSession(session)
		session.terminate()
		return nil, errors.WrapTransient(err, "Socket", "subscribe", "send start frame")
	}

	go session.run()

	if s.metrics != nil {
		s.metrics.sessionsStarted.Inc()
		s.metrics.sessionsActive.Inc()
	}
	s.logger.Debug("subscription started", "session_id", id)
	return session, nil
}

// dialLocked establishes the connection and performs the connection-level
// handshake. Caller holds s.mu.
func (s *Socket) dialLocked() error {
	conn, _, err := s.dialer.Dial(s.url, nil)
	if err != nil {
		return errors.WrapTransient(err, "Socket", "dial", "open websocket")
	}

	init, err := newConnectionInitFrame(s.authorization, nil)
	if err != nil {
		_ = conn.Close()
		return errors.WrapInvalid(err, "Socket", "dial", "encode connection_init")
	}
	if err := conn.WriteJSON(init); err != nil {
		_ = conn.Close()
		return errors.WrapTransient(err, "Socket", "dial", "send connection_init")
	}

	s.conn = conn
	s.connectedAt = time.Now()
	return nil
}

// ConnectionAge returns the time since the socket was last (re)established,
// so a caller can decide to force a reset.
func (s *Socket) ConnectionAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0
	}
	return time.Since(s.connectedAt)
}

// Close tears the socket down unconditionally. Outstanding sessions stop
// receiving callbacks; the receive loop exits on the resulting read error.
func (s *Socket) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Debug("subscription socket closed")
}

// reconnectDelay paces redial attempts after a failed reconnect so a dead
// endpoint is not hammered in a tight loop.
const reconnectDelay = 200 * time.Millisecond

// readLoop is the single goroutine owning the connection. It dispatches
// incoming frames to sessions, reconnects on connection loss, and gives up
// after maxFailures consecutive failures without an intervening successful
// receive.
func (s *Socket) readLoop() {
	failures := 0

	for {
		if s.closed.Load() {
			s.terminateAll()
			return
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			failures++
			if failures >= s.maxFailures {
				s.logger.Error("giving up on subscription socket",
					"consecutive_failures", failures)
				s.closed.Store(true)
				s.terminateAll()
				return
			}
			if s.metrics != nil {
				s.metrics.reconnectsTotal.Inc()
			}
			if rerr := s.reconnect(); rerr != nil {
				s.logger.Warn("reconnect attempt failed",
					"consecutive_failures", failures, "error", rerr)
				time.Sleep(reconnectDelay)
			}
			continue
		}

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if s.closed.Load() {
				s.terminateAll()
				return
			}
			s.logger.Warn("subscription connection lost", "error", err)
			s.mu.Lock()
			if s.conn == conn {
				_ = conn.Close()
				s.conn = nil
			}
			s.mu.Unlock()
			continue
		}

		// The failure counter resets on the first successful receive after a
		// reconnect, not on the reconnect itself: a fast-failing connection
		// must still reach the give-up cap.
		failures = 0
		s.dispatch(f)
	}
}

// reconnect re-establishes the connection and resubmits every active
// session's retained start payload under a fresh session id.
func (s *Socket) reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if err := s.dialLocked(); err != nil {
		return err
	}

	// Snapshot before re-keying: the index is updated per successful
	// resubmit so a write failure partway through never leaves a session
	// answering to an id the dispatch map does not know.
	type pending struct {
		oldID   string
		session *Session
	}
	remaining := make([]pending, 0, len(s.sessions))
	for oldID, session := range s.sessions {
		remaining = append(remaining, pending{oldID: oldID, session: session})
	}

	for _, p := range remaining {
		newID := uuid.NewString()
		start, err := newStartFrame(newID, p.session.start)
		if err != nil {
			s.logger.Error("drop session, cannot re-encode start frame",
				"session_id", p.oldID, "error", err)
			delete(s.sessions, p.oldID)
			p.session.terminate()
			if s.metrics != nil {
				s.metrics.sessionsActive.Dec()
			}
			continue
		}

		s.writeMu.Lock()
		err = s.conn.WriteJSON(start)
		s.writeMu.Unlock()
		if err != nil {
			// Sessions not yet resubmitted keep their old keys and ids; the
			// next reconnect picks them up again.
			return errors.WrapTransient(err, "Socket", "reconnect", "resubmit session")
		}

		p.session.setID(newID)
		delete(s.sessions, p.oldID)
		s.sessions[newID] = p.session
		s.logger.Info("session resubmitted after reconnect",
			"old_session_id", p.oldID, "session_id", newID)
	}
	return nil
}

// dispatch routes one server frame to its session.
func (s *Socket) dispatch(f frame) {
	if s.metrics != nil {
		s.metrics.framesReceived.WithLabelValues(frameLabel(f)).Inc()
	}

	switch f.Type {
	case msgKeepAlive, msgConnectionAck:
		return
	}

	if f.ID == "" {
		return
	}

	s.mu.Lock()
	session := s.sessions[f.ID]
	s.mu.Unlock()
	if session == nil {
		return
	}

	switch {
	case f.Type == msgError || f.Type == msgComplete:
		// Terminal server-initiated frames: stop the session, no reconnect.
		s.logger.Debug("session ended by server", "session_id", f.ID, "frame", f.Type)
		s.stopSession(session, true)
	case f.isData():
		if dropped := session.deliver(f.Payload); dropped {
			s.logger.Warn("session queue full, data frame dropped", "session_id", f.ID)
			if s.metrics != nil {
				s.metrics.framesDropped.Inc()
			}
		}
	}
}

// stopSession ends one session, optionally sending a stop frame first.
// Safe to call from any goroutine and more than once.
func (s *Socket) stopSession(session *Session, sendStop bool) {
	if !session.running.Load() {
		return
	}

	id := session.ID()
	if sendStop && !s.closed.Load() {
		if err := s.writeFrame(frame{Type: msgStop, ID: id}); err != nil {
			s.logger.Debug("stop frame not delivered", "session_id", id, "error", err)
		}
	}

	s.removeSession(session)
	session.terminate()
	if s.metrics != nil {
		s.metrics.sessionsActive.Dec()
	}
}

func (s *Socket) removeSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, candidate := range s.sessions {
		if candidate == session {
			delete(s.sessions, id)
		}
	}
}

// terminateAll ends every session without stop frames; the connection is
// already gone.
func (s *Socket) terminateAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.terminate()
		if s.metrics != nil {
			s.metrics.sessionsActive.Dec()
		}
	}
}

// writeFrame sends one frame, serializing writers.
func (s *Socket) writeFrame(f frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.ErrNoConnection
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func frameLabel(f frame) string {
	if f.Type == "" {
		return msgData
	}
	return f.Type
}
