package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/monitoring"
	"github.com/temporalos/chatkit/internal/protocol"
)

// Status describes the connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Handler receives parsed inbound frames in delivery order.
type Handler func(env protocol.Envelope)

// StatusHandler observes connection state transitions.
type StatusHandler func(status Status)

// Options configures a Socket.
type Options struct {
	URL               string
	ReconnectDelay    time.Duration // default 3s
	HeartbeatInterval time.Duration // default 30s
	SendRatePerSecond float64       // 0 disables the outbound limiter
	SendBurst         int
	Logger            *logging.Logger
	Metrics           *monitoring.Metrics
}

// Socket manages one WebSocket connection with heartbeat and reconnect.
type Socket struct {
	url               string
	reconnectDelay    time.Duration
	heartbeatInterval time.Duration
	dialer            *websocket.Dialer
	limiter           *rate.Limiter
	log               *logging.Logger
	metrics           *monitoring.Metrics

	mu             sync.Mutex
	conn           *websocket.Conn
	status         Status
	manual         bool // set by Disconnect, suppresses reconnect
	dialing        bool
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	handler        Handler
	statusHandler  StatusHandler
}

// New creates a Socket. Connect must be called to open the connection.
func New(opts Options) *Socket {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	var limiter *rate.Limiter
	if opts.SendRatePerSecond > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRatePerSecond), burst)
	}

	return &Socket{
		url:               opts.URL,
		reconnectDelay:    opts.ReconnectDelay,
		heartbeatInterval: opts.HeartbeatInterval,
		dialer:            &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		limiter:           limiter,
		log:               opts.Logger,
		metrics:           opts.Metrics,
		status:            StatusDisconnected,
	}
}

// SetHandler registers the inbound frame handler. Call before Connect.
func (s *Socket) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetStatusHandler registers the status observer. Call before Connect.
func (s *Socket) SetStatusHandler(h StatusHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusHandler = h
}

// Status returns the current connection status.
func (s *Socket) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsConnected reports whether the connection is open.
func (s *Socket) IsConnected() bool {
	return s.Status() == StatusConnected
}

// Connect opens the connection. It is a no-op while a connection exists or a
// dial is already in flight, so rapid re-invocation cannot create duplicate
// sockets.
func (s *Socket) Connect() {
	s.mu.Lock()
	s.manual = false
	if s.conn != nil || s.dialing {
		s.mu.Unlock()
		s.log.Debug("websocket already exists, skipping connect")
		return
	}
	s.dialing = true
	s.status = StatusConnecting
	cb := s.statusHandler
	s.mu.Unlock()

	s.log.Info("connecting websocket", zap.String("url", s.url))
	if cb != nil {
		cb(StatusConnecting)
	}
	go s.dial()
}

func (s *Socket) dial() {
	conn, resp, err := s.dialer.Dial(s.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.log.Warn("websocket dial failed", zap.String("url", s.url), zap.Error(err))
		s.mu.Lock()
		s.dialing = false
		s.status = StatusDisconnected
		cb := s.statusHandler
		if !s.manual {
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		if cb != nil {
			cb(StatusError)
			cb(StatusDisconnected)
		}
		return
	}

	s.mu.Lock()
	s.dialing = false
	if s.manual {
		// Disconnect raced in while dialing; drop the fresh connection.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.status = StatusConnected
	stop := make(chan struct{})
	s.heartbeatStop = stop
	cb := s.statusHandler
	s.mu.Unlock()

	s.log.Info("websocket connected", zap.String("url", s.url))
	s.metrics.RecordConnect()
	if cb != nil {
		cb(StatusConnected)
	}

	go s.heartbeat(conn, stop)
	go s.readLoop(conn)
}

// heartbeat sends a ping frame on each tick while its connection is current.
func (s *Socket) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			open := s.conn == conn && s.status == StatusConnected
			var err error
			if open {
				err = conn.WriteJSON(protocol.NewPing())
			}
			s.mu.Unlock()

			if !open {
				continue
			}
			if err != nil {
				s.log.Warn("heartbeat ping failed", zap.Error(err))
				continue
			}
			s.log.Debug("sent heartbeat ping")
			s.metrics.RecordHeartbeat()
			s.metrics.RecordFrame(monitoring.DirectionOutbound, protocol.TypePing)
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}

		env, perr := protocol.DecodeEnvelope(raw)
		if perr != nil {
			// Malformed frames are dropped, never fatal.
			s.log.Error("failed to parse websocket frame", zap.Error(perr))
			s.metrics.RecordParseError()
			continue
		}

		if env.Type == protocol.TypePong {
			s.log.Debug("received heartbeat pong")
			continue
		}

		s.metrics.RecordFrame(monitoring.DirectionInbound, env.Type)

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler != nil {
			handler(env)
		}
	}
}

// handleClose runs when the read loop observes connection loss. Unexpected
// closure surfaces an error status, then disconnected, then schedules the
// reconnect; closure initiated by Disconnect is ignored here because
// Disconnect already detached the connection.
func (s *Socket) handleClose(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.stopHeartbeatLocked()
	// Force the socket shut. A read-side error can leave the TCP
	// connection half-open, and the server would still count us as a
	// participant when the reconnect comes in.
	conn.Close()

	var transitions []Status
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.status = StatusError
		transitions = append(transitions, StatusError)
	}
	s.status = StatusDisconnected
	transitions = append(transitions, StatusDisconnected)
	if !s.manual {
		s.scheduleReconnectLocked()
	}
	cb := s.statusHandler
	s.mu.Unlock()

	s.log.Warn("websocket disconnected", zap.Error(err))
	s.metrics.RecordDisconnect()
	if cb != nil {
		for _, st := range transitions {
			cb(st)
		}
	}
}

// scheduleReconnectLocked arms the single reconnect timer. The fire-time
// status re-check guards against reconnecting after a manual disconnect or a
// connect that raced in. Caller must hold s.mu.
func (s *Socket) scheduleReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.metrics.RecordReconnect()
	s.reconnectTimer = time.AfterFunc(s.reconnectDelay, func() {
		s.mu.Lock()
		retry := s.status == StatusDisconnected && !s.manual
		s.mu.Unlock()
		if retry {
			s.log.Info("attempting to reconnect")
			s.Connect()
		}
	})
}

// Send serializes the payload to JSON and transmits it. If the connection is
// not open it triggers a recovery Connect and reports failure; the caller
// owns retrying the logical operation, nothing is queued.
func (s *Socket) Send(payload any) bool {
	s.mu.Lock()
	if s.conn != nil && s.status == StatusConnected {
		if s.limiter != nil && !s.limiter.Allow() {
			s.mu.Unlock()
			s.log.Warn("outbound frame dropped, send rate exceeded")
			return false
		}
		err := s.conn.WriteJSON(payload)
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("websocket write failed", zap.Error(err))
			return false
		}
		if f, ok := payload.(protocol.Framer); ok {
			s.metrics.RecordFrame(monitoring.DirectionOutbound, f.FrameType())
		}
		return true
	}
	status := s.status
	s.mu.Unlock()

	s.log.Warn("websocket not connected, triggering reconnect", zap.String("status", string(status)))
	s.Connect()
	return false
}

// Disconnect stops the heartbeat, suppresses the automatic reconnect, and
// closes the socket.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.manual = true
	s.stopHeartbeatLocked()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.status = StatusDisconnected
	cb := s.statusHandler
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.log.Info("websocket disconnected by caller")
	s.metrics.RecordDisconnect()
	if cb != nil {
		cb(StatusDisconnected)
	}
}

// stopHeartbeatLocked stops the heartbeat goroutine. Caller must hold s.mu.
func (s *Socket) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}
