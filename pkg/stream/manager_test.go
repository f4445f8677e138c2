package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"terrachat/pkg/wire"
)

// echoBackend accepts websocket connections and records every inbound
// frame, so tests can assert the auth/subscribe handshake.
type echoBackend struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	frames   chan wire.Event
}

func newEchoBackend() *echoBackend {
	return &echoBackend{
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan wire.Event, 64),
	}
}

func (b *echoBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.conns <- conn
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if ev, ok := wire.Decode(raw); ok {
				b.frames <- ev
			}
		}
	}()
}

func (b *echoBackend) nextFrame(t *testing.T) wire.Event {
	t.Helper()
	select {
	case ev := <-b.frames:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return wire.Event{}
	}
}

func (b *echoBackend) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestManager(srv *httptest.Server, onState func(ConnState)) *Manager {
	return NewManager(Config{
		URL:       wsURL(srv),
		ProjectID: "p1",
		Token: func(ctx context.Context) (string, error) {
			return "tok", nil
		},
		ReconnectDelay: 30 * time.Millisecond,
		OnState:        onState,
	})
}

func TestConnectSendsAuthAndSubscription(t *testing.T) {
	b := newEchoBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()

	m := newTestManager(srv, nil)
	m.Start(context.Background())
	defer m.Close()

	require.Equal(t, wire.FrameAuth, b.nextFrame(t).Type)
	sub := b.nextFrame(t)
	require.Equal(t, wire.FrameSubscribeProject, sub.Type)
	require.Equal(t, "p1", sub.Str("project_id"))
	require.Equal(t, StateConnected, m.State())
}

func TestEventsDispatchToRegisteredHandler(t *testing.T) {
	b := newEchoBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()

	m := newTestManager(srv, nil)
	got := make(chan wire.Event, 1)
	// first registration is replaced: last one wins
	m.Register("X", func(ev wire.Event) { t.Error("stale handler invoked") })
	m.Register("X", func(ev wire.Event) { got <- ev })
	m.Start(context.Background())
	defer m.Close()

	conn := b.nextConn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"X","data":{"foo":1}}`)))
	// junk frames are discarded without dispatch
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"foo":"bar"}`)))

	select {
	case ev := <-got:
		require.Equal(t, float64(1), ev.Num("foo"))
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestReconnectResubscribesThread(t *testing.T) {
	b := newEchoBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()

	m := newTestManager(srv, nil)
	m.Start(context.Background())
	defer m.Close()

	conn := b.nextConn(t)
	b.nextFrame(t) // auth
	b.nextFrame(t) // subscribe_project

	m.SelectThread("t9")
	sub := b.nextFrame(t)
	require.Equal(t, wire.FrameSubscribeConversation, sub.Type)

	// abnormal drop: kill the TCP side without a close handshake
	_ = conn.UnderlyingConn().Close()

	b.nextConn(t)
	require.Equal(t, wire.FrameAuth, b.nextFrame(t).Type)
	require.Equal(t, wire.FrameSubscribeProject, b.nextFrame(t).Type)
	resub := b.nextFrame(t)
	require.Equal(t, wire.FrameSubscribeConversation, resub.Type)
	require.Equal(t, "t9", resub.Str("thread_id"))
}

func TestCleanCloseSuppressesReconnect(t *testing.T) {
	b := newEchoBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()

	m := newTestManager(srv, nil)
	m.Start(context.Background())
	defer m.Close()

	conn := b.nextConn(t)
	deadline := time.Now().Add(time.Second)
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline))

	select {
	case <-b.conns:
		t.Fatal("client reconnected after clean close")
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, StateDisconnected, m.State())
}
