package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"go.uber.org/zap"
)

// fakeHub accepts connections and records the frames each one sends.
type fakeHub struct {
	t        *testing.T
	srv      *httptest.Server
	url      string
	accepted chan *hubConn
}

type hubConn struct {
	conn   *websocket.Conn
	frames chan protocol.Message
}

func newFakeHub(t *testing.T) *fakeHub {
	h := &fakeHub{t: t, accepted: make(chan *hubConn, 8)}

	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		hc := &hubConn{conn: conn, frames: make(chan protocol.Message, 16)}
		h.accepted <- hc

		defer close(hc.frames)
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			msg, err := protocol.Decode(data)
			if err == nil {
				hc.frames <- msg
			}
		}
	}))
	t.Cleanup(h.srv.Close)

	h.url = "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	return h
}

func (h *fakeHub) accept() *hubConn {
	h.t.Helper()
	select {
	case hc := <-h.accepted:
		return hc
	case <-time.After(2 * time.Second):
		h.t.Fatal("no connection accepted")
		return nil
	}
}

func (hc *hubConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-hc.frames:
		require.True(t, ok, "connection closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func (hc *hubConn) sendRaw(t *testing.T, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hc.conn.Write(ctx, websocket.MessageText, []byte(raw)))
}

func (hc *hubConn) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	hc.sendRaw(t, string(protocol.MustEncode(msg)))
}

type events struct {
	connected    atomic.Int32
	disconnected atomic.Int32
	reset        atomic.Int32
	start        atomic.Int32
	home         atomic.Int32
	errors       chan string
	results      chan protocol.PredictionResult
}

func newEvents() *events {
	return &events{
		errors:  make(chan string, 8),
		results: make(chan protocol.PredictionResult, 8),
	}
}

func (e *events) handlers() Handlers {
	return Handlers{
		OnConnected:        func() { e.connected.Add(1) },
		OnDisconnected:     func() { e.disconnected.Add(1) },
		OnResetCanvas:      func() { e.reset.Add(1) },
		OnStartDrawing:     func() { e.start.Add(1) },
		OnNavigateToHome:   func() { e.home.Add(1) },
		OnError:            func(message string) { e.errors <- message },
		OnPredictionResult: func(r protocol.PredictionResult) { e.results <- r },
	}
}

func startController(t *testing.T, url string, role protocol.Role, handlers Handlers) *Controller {
	t.Helper()

	ctrl, err := NewController().
		WithURL(url).
		WithRole(role).
		WithHandlers(handlers).
		WithLogger(zap.NewNop()).
		WithReconnectDelay(20 * time.Millisecond).
		WithDialTimeout(time.Second).
		Build()
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Close)

	return ctrl
}

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		origin   string
		want     string
		wantErr  bool
	}{
		{"explicit wins", "ws://hub:3000/ws", "https://kiosk.local", "ws://hub:3000/ws", false},
		{"explicit http upgraded", "http://hub:3000/socket", "", "ws://hub:3000/socket", false},
		{"secure origin", "", "https://kiosk.local", "wss://kiosk.local/ws", false},
		{"plain origin with port", "", "http://localhost:5173/desktop?x=1#top", "ws://localhost:5173/ws", false},
		{"nothing configured", "", "", "", true},
		{"bad scheme", "ftp://hub/ws", "", "", true},
		{"no host", "", "https://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveEndpoint(tt.explicit, tt.origin)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestControllerBuilder(t *testing.T) {
	_, err := NewController().WithURL("ws://hub/ws").Build()
	assert.Error(t, err, "role is required")

	_, err = NewController().WithRole(protocol.RoleTablet).Build()
	assert.Error(t, err, "endpoint is required")

	ctrl, err := NewController().WithPageOrigin("https://kiosk.local").WithRole(protocol.RoleTablet).Build()
	require.NoError(t, err)
	assert.Equal(t, "wss://kiosk.local/ws", ctrl.url)
	assert.Equal(t, DefaultReconnectDelay, ctrl.reconnectDelay)
}

func TestController_AnnouncesRoleAndDispatches(t *testing.T) {
	hub := newFakeHub(t)
	ev := newEvents()

	ctrl := startController(t, hub.url, protocol.RoleTablet, ev.handlers())

	hc := hub.accept()
	assert.Equal(t, protocol.Connected{Mode: protocol.RoleTablet}, hc.next(t))
	assert.Eventually(t, ctrl.Connected, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return ev.connected.Load() == 1 }, time.Second, 5*time.Millisecond)

	hc.sendRaw(t, "not json")
	hc.sendRaw(t, `{"type":"mystery"}`)
	hc.send(t, protocol.StartDrawing{})
	hc.send(t, protocol.ResetCanvas{})
	hc.send(t, protocol.NavigateToHome{})
	hc.send(t, protocol.Error{Message: "Invalid drawing data. Please try again."})
	hc.sendRaw(t, `{"type":"error","payload":42}`)
	hc.send(t, protocol.PredictionResult{
		Predictions: []protocol.Prediction{{Class: "cat", Confidence: 0.9}},
		UserDrawing: "data:image/png;base64,AA==",
	})

	select {
	case r := <-ev.results:
		assert.Equal(t, "cat", r.Predictions[0].Class)
	case <-time.After(2 * time.Second):
		t.Fatal("no prediction result")
	}

	assert.Equal(t, "Invalid drawing data. Please try again.", <-ev.errors)
	assert.Equal(t, GenericErrorMessage, <-ev.errors)
	assert.Equal(t, int32(1), ev.start.Load())
	assert.Equal(t, int32(1), ev.reset.Load())
	assert.Equal(t, int32(1), ev.home.Load())
	assert.True(t, ctrl.Connected(), "bad frames do not close the connection")
}

func TestController_Outbound(t *testing.T) {
	hub := newFakeHub(t)
	ctrl := startController(t, hub.url, protocol.RoleDesktop, Handlers{})

	hc := hub.accept()
	assert.Equal(t, protocol.Connected{Mode: protocol.RoleDesktop}, hc.next(t))
	require.Eventually(t, ctrl.Connected, time.Second, 5*time.Millisecond)

	assert.True(t, ctrl.SendNavigate(DestinationDigit))
	assert.Equal(t, protocol.NavigateToDigit{}, hc.next(t))

	assert.True(t, ctrl.SendReset())
	assert.Equal(t, protocol.Reset{}, hc.next(t))

	assert.False(t, ctrl.SendNavigate(Destination(99)))

	drawing := protocol.DrawingPayload{DisplayImage: "data:image/png;base64,AA==", ModelData: make([]float64, 784), Width: 28, Height: 28}
	assert.True(t, ctrl.SubmitDrawing(drawing))

	submitted, ok := hc.next(t).(protocol.DrawingSubmitted)
	require.True(t, ok)
	assert.Equal(t, drawing, submitted.Drawing)
	ts, err := time.Parse(time.RFC3339, submitted.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestController_ReconnectsAfterClose(t *testing.T) {
	hub := newFakeHub(t)
	ev := newEvents()
	ctrl := startController(t, hub.url, protocol.RoleTablet, ev.handlers())

	first := hub.accept()
	first.next(t)
	require.Eventually(t, ctrl.Connected, time.Second, 5*time.Millisecond)

	first.conn.Close(websocket.StatusGoingAway, "restart")

	assert.Eventually(t, func() bool { return ev.disconnected.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, ctrl.SendReset(), "dropped while disconnected")

	second := hub.accept()
	assert.Equal(t, protocol.Connected{Mode: protocol.RoleTablet}, second.next(t))
	assert.Eventually(t, func() bool { return ev.connected.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), ev.disconnected.Load())
}

func TestController_RepeatedCloseSchedulesOneReconnect(t *testing.T) {
	hub := newFakeHub(t)
	ev := newEvents()

	ctrl, err := NewController().
		WithURL(hub.url).
		WithRole(protocol.RoleTablet).
		WithHandlers(ev.handlers()).
		WithLogger(zap.NewNop()).
		WithReconnectDelay(200 * time.Millisecond).
		WithDialTimeout(time.Second).
		Build()
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Close)

	hub.accept().next(t)
	require.Eventually(t, ctrl.Connected, time.Second, 5*time.Millisecond)

	ctrl.mu.Lock()
	s := ctrl.current
	ctrl.mu.Unlock()
	require.NotNil(t, s)

	// The reader also reports this session closed once its context is gone.
	ctrl.handleClose(s)
	require.True(t, ctrl.Reconnecting())
	ctrl.mu.Lock()
	timer := ctrl.timer
	ctrl.mu.Unlock()

	ctrl.handleClose(s)
	ctrl.mu.Lock()
	assert.Same(t, timer, ctrl.timer, "second close keeps the pending reconnect")
	ctrl.mu.Unlock()
	assert.Equal(t, int32(1), ev.disconnected.Load())

	second := hub.accept()
	assert.Equal(t, protocol.Connected{Mode: protocol.RoleTablet}, second.next(t))
	require.Eventually(t, ctrl.Connected, time.Second, 5*time.Millisecond)
	assert.False(t, ctrl.Reconnecting())

	select {
	case <-hub.accepted:
		t.Fatal("more than one reconnection")
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, int32(2), ev.connected.Load())
	assert.Equal(t, int32(1), ev.disconnected.Load())
}

func TestController_DialFailureRetries(t *testing.T) {
	// Reserve a port with nothing listening on it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	ev := newEvents()
	ctrl, err := NewController().
		WithURL("ws://" + addr + "/ws").
		WithRole(protocol.RoleDesktop).
		WithHandlers(ev.handlers()).
		WithReconnectDelay(time.Hour).
		Build()
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	defer ctrl.Close()

	assert.Eventually(t, ctrl.Reconnecting, 2*time.Second, 5*time.Millisecond)
	assert.False(t, ctrl.Connected())
	assert.Equal(t, int32(0), ev.disconnected.Load(), "never opened, so never disconnected")

	ctrl.Close()
	assert.False(t, ctrl.Reconnecting(), "close cancels the pending reconnect")
}

func TestController_CloseStopsCallbacks(t *testing.T) {
	hub := newFakeHub(t)
	ev := newEvents()
	ctrl := startController(t, hub.url, protocol.RoleTablet, ev.handlers())

	hc := hub.accept()
	hc.next(t)
	require.Eventually(t, ctrl.Connected, time.Second, 5*time.Millisecond)

	ctrl.Close()
	ctrl.Close()
	assert.False(t, ctrl.Connected())

	// The hub sees the close.
	select {
	case _, ok := <-hc.frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not see the close")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), ev.disconnected.Load())
	assert.False(t, ctrl.Reconnecting())
	assert.False(t, ctrl.SubmitDrawing(protocol.DrawingPayload{}))

	assert.Error(t, ctrl.Start(context.Background()))
}

func TestController_CloseWaitsForRunningCallback(t *testing.T) {
	hub := newFakeHub(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var resets atomic.Int32

	ctrl := startController(t, hub.url, protocol.RoleTablet, Handlers{
		OnResetCanvas: func() {
			resets.Add(1)
			close(entered)
			<-release
		},
	})

	hc := hub.accept()
	hc.next(t)
	hc.send(t, protocol.ResetCanvas{})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	closed := make(chan struct{})
	go func() {
		ctrl.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a callback was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close never returned")
	}
	assert.Equal(t, int32(1), resets.Load())
}

func TestController_ContextCancelCloses(t *testing.T) {
	hub := newFakeHub(t)

	ctrl, err := NewController().WithURL(hub.url).WithRole(protocol.RoleDesktop).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctrl.Start(ctx))

	hub.accept().next(t)
	cancel()

	assert.Eventually(t, func() bool { return !ctrl.Connected() && ctrl.isClosed() }, time.Second, 5*time.Millisecond)
}
