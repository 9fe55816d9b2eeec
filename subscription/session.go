package subscription

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Callback receives data payloads for one session. It runs on the session's
// worker goroutine; a slow callback delays that session only, frames for
// other sessions keep flowing.
type Callback func(sessionID string, payload json.RawMessage)

// queueSize bounds the per-session frame queue between the socket's receive
// loop and the session worker.
const queueSize = 64

// Session is one logical subscription multiplexed over the client's shared
// socket. Pause, Unpause and Stop are safe to call from any goroutine.
type Session struct {
	socket   *Socket
	callback Callback

	// Original start payload, retained verbatim for reconnect resubmission.
	start startPayload

	// id changes on every (re)submission; guarded by mu.
	mu sync.Mutex
	id string

	running atomic.Bool
	paused  atomic.Bool

	qMu         sync.Mutex
	queue       chan json.RawMessage
	queueClosed bool
	closeOnce   sync.Once
	done        chan struct{}
}

func newSession(socket *Socket, id string, start startPayload, cb Callback) *Session {
	s := &Session{
		socket:   socket,
		callback: cb,
		start:    start,
		id:       id,
		queue:    make(chan json.RawMessage, queueSize),
		done:     make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// ID returns the current session id. It changes when the socket reconnects
// and resubmits the session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Running reports whether the session still receives frames.
func (s *Session) Running() bool {
	return s.running.Load()
}

// Paused reports whether callback delivery is suspended.
func (s *Session) Paused() bool {
	return s.paused.Load()
}

// Pause suspends callback delivery. Data frames are still drained from the
// socket so the connection stays alive; they are discarded until Unpause.
func (s *Session) Pause() {
	s.paused.Store(true)
}

// Unpause resumes callback delivery without resubscribing.
func (s *Session) Unpause() {
	s.paused.Store(false)
}

// Stop ends the session: a stop frame is sent, the worker exits, and no
// further callbacks are delivered. Safe to call more than once.
func (s *Session) Stop() {
	s.socket.stopSession(s, true)
}

// Done is closed when the session worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// deliver hands a data payload to the session worker. Never blocks the
// socket's receive loop: when the queue is full the payload is dropped.
func (s *Session) deliver(payload json.RawMessage) (dropped bool) {
	s.qMu.Lock()
	defer s.qMu.Unlock()
	if s.queueClosed {
		return false
	}
	select {
	case s.queue <- payload:
		return false
	default:
		return true
	}
}

// terminate closes the frame queue, letting the worker drain and exit.
func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		s.running.Store(false)
		s.qMu.Lock()
		s.queueClosed = true
		close(s.queue)
		s.qMu.Unlock()
	})
}

// run is the session worker: it drains the frame queue and invokes the
// callback for every payload received while not paused.
func (s *Session) run() {
	defer close(s.done)
	for payload := range s.queue {
		if s.paused.Load() || !s.running.Load() {
			continue
		}
		s.callback(s.ID(), payload)
	}
}
