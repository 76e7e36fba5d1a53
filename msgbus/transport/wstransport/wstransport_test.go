package wstransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingListener struct {
	opened   chan struct{}
	messages chan string
	closed   chan bool
	errors   chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		opened:   make(chan struct{}, 1),
		messages: make(chan string, 16),
		closed:   make(chan bool, 1),
		errors:   make(chan error, 4),
	}
}

func (listener *recordingListener) OnOpen()               { listener.opened <- struct{}{} }
func (listener *recordingListener) OnMessage(data []byte) { listener.messages <- string(data) }
func (listener *recordingListener) OnClose(clean bool)    { listener.closed <- clean }
func (listener *recordingListener) OnError(err error)     { listener.errors <- err }

func waitFor[T any](t *testing.T, events <-chan T) T {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for transport event")
		var zero T
		return zero
	}
}

// echoServer upgrades every request and echoes text frames until the peer
// closes. The request URL is published on urls.
func echoServer(t *testing.T, urls chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if urls != nil {
			urls <- request.URL.String()
		}
		ws, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			messageType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnSendReceiveAndCleanClose(t *testing.T) {
	urls := make(chan string, 1)
	server := echoServer(t, urls)
	listener := newRecordingListener()
	conn := NewFactory(Options{})()

	require.NoError(t, conn.Open(wsURL(server)+"/bus?token=abc", listener))
	waitFor(t, listener.opened)
	assert.Equal(t, "/bus?token=abc", <-urls)

	require.NoError(t, conn.Send([]byte(`{"id":"1","type":"heartbeat"}`)))
	assert.Equal(t, `{"id":"1","type":"heartbeat"}`, waitFor(t, listener.messages))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, waitFor(t, listener.closed))
	assert.ErrorIs(t, conn.Send([]byte("late")), ErrNotOpen)
}

func TestConnOpenTwiceFails(t *testing.T) {
	server := echoServer(t, nil)
	listener := newRecordingListener()
	conn := NewFactory(Options{})()

	require.NoError(t, conn.Open(wsURL(server), listener))
	assert.Error(t, conn.Open(wsURL(server), listener))
	waitFor(t, listener.opened)

	require.NoError(t, conn.Close())
	waitFor(t, listener.closed)
}

func TestConnDialFailureIsUnclean(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)
	listener := newRecordingListener()
	conn := NewFactory(Options{HandshakeTimeout: time.Second})()

	require.NoError(t, conn.Open(wsURL(server), listener))
	assert.Error(t, waitFor(t, listener.errors))
	assert.False(t, waitFor(t, listener.closed))
	assert.ErrorIs(t, conn.Send([]byte("x")), ErrNotOpen)
}

func TestConnServerDropIsUnclean(t *testing.T) {
	upgrader := websocket.Upgrader{}
	drop := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ws, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		<-drop
		_ = ws.UnderlyingConn().Close()
	}))
	t.Cleanup(server.Close)

	listener := newRecordingListener()
	conn := NewFactory(Options{})()
	require.NoError(t, conn.Open(wsURL(server), listener))
	waitFor(t, listener.opened)

	close(drop)
	assert.Error(t, waitFor(t, listener.errors))
	assert.False(t, waitFor(t, listener.closed))
}

func TestConnServerNormalCloseIsClean(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ws, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(server.Close)

	listener := newRecordingListener()
	conn := NewFactory(Options{})()
	require.NoError(t, conn.Open(wsURL(server), listener))
	waitFor(t, listener.opened)

	assert.True(t, waitFor(t, listener.closed))
	assert.Empty(t, listener.errors)
}

func TestConnCloseBeforeDialCompletes(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	listener := newRecordingListener()
	conn := NewFactory(Options{})()
	require.NoError(t, conn.Open(wsURL(server), listener))
	require.NoError(t, conn.Close())

	assert.True(t, waitFor(t, listener.closed))
	assert.Empty(t, listener.errors)
}
