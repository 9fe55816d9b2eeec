package subscription

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kili-technology/kili-python-sdk-sub002/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsBackend is a scriptable websocket server. The script runs once per
// accepted connection, after the connection_init handshake has been read.
type wsBackend struct {
	server *httptest.Server

	mu     sync.Mutex
	conns  int
	inits  []frame
	starts []frame
	stops  []frame
}

func newWSBackend(t *testing.T, script func(idx int, c *websocket.Conn)) *wsBackend {
	t.Helper()
	b := &wsBackend{}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{subProtocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()

		var init frame
		if err := c.ReadJSON(&init); err != nil {
			return
		}
		b.mu.Lock()
		idx := b.conns
		b.conns++
		b.inits = append(b.inits, init)
		b.mu.Unlock()

		_ = c.WriteJSON(frame{Type: msgConnectionAck})
		script(idx, c)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *wsBackend) config() config.Config {
	return config.Config{
		Endpoint:      b.server.URL + "/graphql",
		APIKey:        "test-key",
		ClientName:    config.ClientNameSDK,
		ClientVersion: "test",
		VerifyTLS:     true,
	}
}

// readStart reads frames until a start frame arrives, recording it.
func (b *wsBackend) readStart(c *websocket.Conn) (frame, error) {
	for {
		var f frame
		if err := c.ReadJSON(&f); err != nil {
			return frame{}, err
		}
		b.mu.Lock()
		switch f.Type {
		case msgStart:
			b.starts = append(b.starts, f)
			b.mu.Unlock()
			return f, nil
		case msgStop:
			b.stops = append(b.stops, f)
		}
		b.mu.Unlock()
	}
}

func dataFrame(id string, payload string) frame {
	return frame{Type: msgData, ID: id, Payload: json.RawMessage(payload)}
}

// collector funnels callback payloads into a channel.
func collector() (Callback, chan json.RawMessage) {
	ch := make(chan json.RawMessage, 32)
	return func(_ string, payload json.RawMessage) { ch <- payload }, ch
}

func waitPayload(t *testing.T, ch chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func assertNoPayload(t *testing.T, ch chan json.RawMessage) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected payload delivered: %s", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribeDeliversData(t *testing.T) {
	hold := make(chan struct{})
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(frame{Type: msgKeepAlive})
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"notifications":[{"id":"n1"}]}}`))
		<-hold
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { notifications { id } }`, nil, nil, cb)
	require.NoError(t, err)

	payload := waitPayload(t, payloads)
	assert.JSONEq(t, `{"data":{"notifications":[{"id":"n1"}]}}`, string(payload))
	assert.True(t, session.Running())
	assert.NotEmpty(t, session.ID())
	assert.Greater(t, client.ConnectionAge(), time.Duration(0))
}

func TestDataFrameWithoutTypeIsDelivered(t *testing.T) {
	hold := make(chan struct{})
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		// Some servers omit the type on data frames entirely.
		_ = c.WriteJSON(frame{ID: start.ID, Payload: json.RawMessage(`{"data":{"n":1}}`)})
		<-hold
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	_, err = client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)

	assert.JSONEq(t, `{"data":{"n":1}}`, string(waitPayload(t, payloads)))
}

func TestPauseSuppressesCallbacksWithoutResubscribing(t *testing.T) {
	hold := make(chan struct{})
	send := make(chan string)
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		for {
			select {
			case payload := <-send:
				_ = c.WriteJSON(dataFrame(start.ID, payload))
			case <-hold:
				return
			}
		}
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)

	send <- `{"data":{"n":1}}`
	waitPayload(t, payloads)

	session.Pause()
	assert.True(t, session.Paused())
	send <- `{"data":{"n":2}}`
	assertNoPayload(t, payloads)
	assert.True(t, session.Running())

	session.Unpause()
	assert.False(t, session.Paused())
	send <- `{"data":{"n":3}}`
	assert.JSONEq(t, `{"data":{"n":3}}`, string(waitPayload(t, payloads)))

	// Pause and unpause never resubscribe.
	backend.mu.Lock()
	startCount := len(backend.starts)
	backend.mu.Unlock()
	assert.Equal(t, 1, startCount)
}

func TestServerCompleteEndsSession(t *testing.T) {
	hold := make(chan struct{})
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
		_ = c.WriteJSON(frame{Type: msgComplete, ID: start.ID})
		<-hold
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)

	waitPayload(t, payloads)
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after complete frame")
	}
	assert.False(t, session.Running())
}

func TestStopSendsStopFrame(t *testing.T) {
	hold := make(chan struct{})
	stopSeen := make(chan frame, 1)
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
		for {
			var f frame
			if err := c.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == msgStop {
				stopSeen <- f
				<-hold
				return
			}
		}
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)
	waitPayload(t, payloads)

	id := session.ID()
	session.Stop()

	select {
	case f := <-stopSeen:
		assert.Equal(t, id, f.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the stop frame")
	}
	assert.False(t, session.Running())
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session worker did not exit")
	}
}

func TestReconnectResubmitsSession(t *testing.T) {
	hold := make(chan struct{})
	var backend *wsBackend
	backend = newWSBackend(t, func(idx int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
		if idx == 0 {
			// Drop the first connection after one delivery.
			_ = c.Close()
			return
		}
		<-hold
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	headers := map[string]string{"x-request-origin": "test"}
	variables := map[string]any{"projectID": "p1"}
	session, err := client.Subscribe(`subscription { n }`, variables, headers, cb)
	require.NoError(t, err)
	firstID := session.ID()

	// One payload from each side of the reconnect.
	waitPayload(t, payloads)
	waitPayload(t, payloads)

	backend.mu.Lock()
	require.Len(t, backend.starts, 2)
	first, second := backend.starts[0], backend.starts[1]
	backend.mu.Unlock()

	// The retained payload is resubmitted verbatim under a new id.
	assert.NotEqual(t, first.ID, second.ID)
	assert.JSONEq(t, string(first.Payload), string(second.Payload))

	var resubmitted startPayload
	require.NoError(t, json.Unmarshal(second.Payload, &resubmitted))
	assert.Equal(t, `subscription { n }`, resubmitted.Query)
	assert.Equal(t, headers, resubmitted.Headers)
	assert.Equal(t, "p1", resubmitted.Variables["projectID"])

	assert.True(t, session.Running())
	assert.NotEqual(t, firstID, session.ID())
}

func TestReconnectKeepsSessionIndexConsistent(t *testing.T) {
	// Two sessions across a reconnect: afterwards the socket map must hold
	// exactly the surviving sessions, each keyed by its current id.
	hold := make(chan struct{})
	var backend *wsBackend
	backend = newWSBackend(t, func(idx int, c *websocket.Conn) {
		for i := 0; i < 2; i++ {
			start, err := backend.readStart(c)
			if err != nil {
				return
			}
			_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
		}
		if idx == 0 {
			_ = c.Close()
			return
		}
		<-hold
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	first, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)
	second, err := client.Subscribe(`subscription { m }`, nil, nil, cb)
	require.NoError(t, err)
	oldIDs := map[string]bool{first.ID(): true, second.ID(): true}

	// Two payloads before the drop, two after the resubmit.
	for i := 0; i < 4; i++ {
		waitPayload(t, payloads)
	}

	socket := client.socket
	socket.mu.Lock()
	defer socket.mu.Unlock()
	require.Len(t, socket.sessions, 2)
	for _, session := range []*Session{first, second} {
		id := session.ID()
		assert.False(t, oldIDs[id])
		assert.Same(t, session, socket.sessions[id])
	}
}

func TestFailureCapOfOneNeverRedials(t *testing.T) {
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
	})

	client, err := NewClient(backend.config(), WithLogger(testLogger()),
		WithMaxReconnectFailures(1))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)
	waitPayload(t, payloads)

	// The server drops the connection after one delivery. A cap of 1 spends
	// its only failure on the loss itself and gives up without redialing.
	select {
	case <-session.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session was not terminated after the connection loss")
	}
	assert.False(t, session.Running())

	backend.mu.Lock()
	conns := backend.conns
	backend.mu.Unlock()
	assert.Equal(t, 1, conns)
}

func TestFailureCounterResetsOnSuccessfulReceive(t *testing.T) {
	// Every connection delivers one payload then drops. With a cap of 2,
	// surviving three reconnect cycles proves the counter resets on each
	// successful receive rather than accumulating across reconnects.
	const cycles = 4
	var backend *wsBackend
	backend = newWSBackend(t, func(idx int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
		if idx < cycles-1 {
			_ = c.Close()
		} else {
			time.Sleep(5 * time.Second)
		}
	})

	client, err := NewClient(backend.config(), WithLogger(testLogger()),
		WithMaxReconnectFailures(2))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)

	for i := 0; i < cycles; i++ {
		waitPayload(t, payloads)
	}
	assert.True(t, session.Running())
}

func TestGiveUpAfterConsecutiveFailures(t *testing.T) {
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
	})

	client, err := NewClient(backend.config(), WithLogger(testLogger()),
		WithMaxReconnectFailures(2))
	require.NoError(t, err)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)
	waitPayload(t, payloads)

	// Kill the endpoint entirely: every reconnect attempt now fails.
	backend.server.Close()

	select {
	case <-session.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session was not terminated after exhausting reconnect attempts")
	}
	assert.False(t, session.Running())

	// The socket is dead for subsequent subscriptions too.
	_, err = client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.Error(t, err)
}

func TestConnectionInitCarriesAuthorization(t *testing.T) {
	hold := make(chan struct{})
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		_, _ = backend.readStart(c)
		<-hold
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cb, _ := collector()
	_, err = client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.inits) == 1
	}, 5*time.Second, 10*time.Millisecond)

	backend.mu.Lock()
	init := backend.inits[0]
	backend.mu.Unlock()

	var payload map[string]string
	require.NoError(t, json.Unmarshal(init.Payload, &payload))
	assert.Equal(t, "X-API-Key: test-key", payload["Authorization"])
}

func TestCloseTerminatesSessions(t *testing.T) {
	hold := make(chan struct{})
	var backend *wsBackend
	backend = newWSBackend(t, func(_ int, c *websocket.Conn) {
		start, err := backend.readStart(c)
		if err != nil {
			return
		}
		_ = c.WriteJSON(dataFrame(start.ID, `{"data":{"n":1}}`))
		<-hold
	})
	t.Cleanup(func() { close(hold) })

	client, err := NewClient(backend.config(), WithLogger(testLogger()))
	require.NoError(t, err)

	cb, payloads := collector()
	session, err := client.Subscribe(`subscription { n }`, nil, nil, cb)
	require.NoError(t, err)
	waitPayload(t, payloads)

	client.Close()

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session survived client close")
	}
	assert.False(t, session.Running())
}
