package transport

import (
	"net/http"
	"net/http/httptest"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/protocol"
)

// echoServer is a minimal in-process chat backend: it counts connections,
// records inbound frames, answers pings with pongs, and can close the active
// connection to simulate failure.
type echoServer struct {
	srv      *httptest.Server
	accepted atomic.Int32

	mu      sync.Mutex
	current *websocket.Conn
	frames  []string
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	es := &echoServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		es.accepted.Add(1)
		es.mu.Lock()
		es.current = conn
		es.mu.Unlock()

		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			typ, _ := frame["type"].(string)
			es.mu.Lock()
			es.frames = append(es.frames, typ)
			es.mu.Unlock()
			if typ == protocol.TypePing {
				conn.WriteJSON(map[string]string{"type": protocol.TypePong})
			}
		}
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *echoServer) url() string {
	return "ws" + strings.TrimPrefix(es.srv.URL, "http")
}

func (es *echoServer) dropConnection() {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.current != nil {
		es.current.Close()
	}
}

func (es *echoServer) push(t *testing.T, raw string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	require.NotNil(t, es.current)
	require.NoError(t, es.current.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (es *echoServer) frameCount(typ string) int {
	es.mu.Lock()
	defer es.mu.Unlock()
	n := 0
	for _, f := range es.frames {
		if f == typ {
			n++
		}
	}
	return n
}

func newTestSocket(es *echoServer, opts Options) *Socket {
	opts.URL = es.url()
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return New(opts)
}

func TestConnectIsIdempotent(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{})
	defer s.Disconnect()

	// Rapid re-invocation, as a re-mounting window would do.
	s.Connect()
	s.Connect()
	s.Connect()

	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)
	s.Connect()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), es.accepted.Load(), "duplicate sockets were created")
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{ReconnectDelay: 50 * time.Millisecond})
	defer s.Disconnect()

	s.Connect()
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)

	es.dropConnection()

	require.Eventually(t, func() bool {
		return es.accepted.Load() >= 2 && s.IsConnected()
	}, 2*time.Second, 10*time.Millisecond, "transport did not reconnect")
}

func TestManualDisconnectSuppressesReconnect(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{ReconnectDelay: 30 * time.Millisecond})

	s.Connect()
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)

	s.Disconnect()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), es.accepted.Load(), "reconnected after explicit disconnect")
	assert.Equal(t, StatusDisconnected, s.Status())
}

func TestHeartbeatPingsAndSwallowsPongs(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{HeartbeatInterval: 25 * time.Millisecond})
	defer s.Disconnect()

	var forwarded atomic.Int32
	s.SetHandler(func(env protocol.Envelope) {
		forwarded.Add(1)
	})

	s.Connect()
	require.Eventually(t, func() bool {
		return es.frameCount(protocol.TypePing) >= 2
	}, 2*time.Second, 10*time.Millisecond, "heartbeat pings never arrived")

	// The pong replies must not reach the frame handler.
	assert.Equal(t, int32(0), forwarded.Load())
}

func TestSendDeliversFrame(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{})
	defer s.Disconnect()

	s.Connect()
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)

	ok := s.Send(protocol.NewChatMessage("hello", "msg_1", nil))
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		return es.frameCount(protocol.TypeChatMessage) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSendWhileDisconnectedTriggersRecovery(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{})
	defer s.Disconnect()

	ok := s.Send(protocol.NewChatMessage("hello", "msg_1", nil))
	assert.False(t, ok, "send must fail while disconnected")

	// The failed send doubles as a recovery attempt.
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{})
	defer s.Disconnect()

	frames := make(chan protocol.Envelope, 4)
	s.SetHandler(func(env protocol.Envelope) {
		frames <- env
	})

	s.Connect()
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)

	es.push(t, `{"type":`)
	es.push(t, `{"type":"chat_response","data":{"type":"typing_start"}}`)

	select {
	case env := <-frames:
		assert.Equal(t, protocol.TypeChatResponse, env.Type)
	case <-time.After(time.Second):
		t.Fatal("valid frame after malformed one never delivered")
	}
	assert.True(t, s.IsConnected())
}

func TestStatusTransitionsObserved(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{ReconnectDelay: time.Minute})
	defer s.Disconnect()

	var mu sync.Mutex
	var seen []Status
	s.SetStatusHandler(func(st Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	s.Connect()
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, StatusConnecting, seen[0])
	assert.Equal(t, StatusConnected, seen[1])
}

func TestUnexpectedCloseReleasesDescriptor(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{ReconnectDelay: 20 * time.Millisecond})
	defer s.Disconnect()

	s.Connect()
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)

	// Finalizers must not be the thing reclaiming dead sockets.
	prev := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prev)

	before := openFDCount(t)
	const cycles = 10
	for i := 0; i < cycles; i++ {
		want := es.accepted.Load() + 1
		es.dropConnection()
		require.Eventually(t, func() bool {
			return es.accepted.Load() >= want && s.IsConnected()
		}, 2*time.Second, 10*time.Millisecond, "transport did not reconnect")
	}
	after := openFDCount(t)

	assert.LessOrEqual(t, after, before+2,
		"descriptors grew from %d to %d over %d drop/reconnect cycles", before, after, cycles)
}

func openFDCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestDialFailureEmitsErrorThenDisconnected(t *testing.T) {
	es := newEchoServer(t)
	url := es.url()
	es.srv.Close()

	s := New(Options{URL: url, ReconnectDelay: time.Minute, Logger: logging.NewNop()})
	defer s.Disconnect()

	var mu sync.Mutex
	var seen []Status
	s.SetStatusHandler(func(st Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	s.Connect()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusError, StatusDisconnected}, seen[:3])
}

func TestSendRateLimiter(t *testing.T) {
	es := newEchoServer(t)
	s := newTestSocket(es, Options{SendRatePerSecond: 1, SendBurst: 2})
	defer s.Disconnect()

	s.Connect()
	require.Eventually(t, s.IsConnected, time.Second, 10*time.Millisecond)

	assert.True(t, s.Send(protocol.NewChatMessage("a", "msg_1", nil)))
	assert.True(t, s.Send(protocol.NewChatMessage("b", "msg_2", nil)))
	assert.False(t, s.Send(protocol.NewChatMessage("c", "msg_3", nil)), "burst exceeded, send should be dropped")
}
