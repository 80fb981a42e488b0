package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/chat"
	"github.com/temporalos/chatkit/internal/config"
	"github.com/temporalos/chatkit/internal/groupchat"
	"github.com/temporalos/chatkit/internal/history"
	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/monitoring"
	"github.com/temporalos/chatkit/internal/opsserver"
	"github.com/temporalos/chatkit/internal/probe"
	"github.com/temporalos/chatkit/internal/shared/id"
	"github.com/temporalos/chatkit/internal/transport"
)

// Options tunes startup behavior beyond configuration.
type Options struct {
	// Nickname, when set, joins the group room automatically once the
	// group socket connects for the first time.
	Nickname string

	// Output receives rendered transcript lines. Defaults to io.Discard.
	Output io.Writer
}

// App owns every long-lived component of the client.
type App struct {
	cfg      config.Config
	log      *logging.Logger
	registry *prometheus.Registry
	metrics  *monitoring.Metrics

	sessionID string

	chatSock  *transport.Socket
	groupSock *transport.Socket
	chat      *chat.Client
	group     *groupchat.Client
	hist      *history.Store
	probe     *probe.Probe
	ops       *opsserver.Server

	out io.Writer

	mu           sync.Mutex
	chatPrinted  int
	groupPrinted int
	autoNickname string
}

// New builds the full component graph. Nothing connects until Run.
func New(cfg config.Config, log *logging.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logging.NewNop()
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	registry := prometheus.NewRegistry()
	a := &App{
		cfg:          cfg,
		log:          log,
		registry:     registry,
		metrics:      monitoring.New(registry),
		sessionID:    id.NewClientID().String(),
		out:          out,
		autoNickname: opts.Nickname,
	}

	a.probe = probe.New(probe.Options{
		URL:      cfg.Probe.URL,
		Timeout:  cfg.Probe.Timeout.Std(),
		Interval: cfg.Probe.Interval.Std(),
		Logger:   log,
	})

	if cfg.History.Enabled {
		hist, err := history.Open(cfg.History.Path, log)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.hist = hist
	}

	a.chatSock = transport.New(transport.Options{
		URL:               cfg.Chat.URL,
		ReconnectDelay:    cfg.Socket.ReconnectDelay.Std(),
		HeartbeatInterval: cfg.Socket.HeartbeatInterval.Std(),
		SendRatePerSecond: cfg.Socket.SendRatePerSecond,
		SendBurst:         cfg.Socket.SendBurst,
		Logger:            log.Component("chat-ws"),
		Metrics:           a.metrics,
	})
	a.chat = chat.NewClient(a.chatSock, chat.Options{
		Logger:  log,
		Metrics: a.metrics,
		OnMessagesChange: func(msgs []chat.Message) {
			a.renderChat(msgs)
			a.persistChat(msgs)
		},
	})
	a.chatSock.SetHandler(a.chat.HandleFrame)
	a.chatSock.SetStatusHandler(func(s transport.Status) {
		a.chat.HandleStatus(s)
		fmt.Fprintf(a.out, "* chat socket %s\n", s)
	})

	a.groupSock = transport.New(transport.Options{
		URL:               cfg.Group.URL,
		ReconnectDelay:    cfg.Socket.ReconnectDelay.Std(),
		HeartbeatInterval: cfg.Socket.HeartbeatInterval.Std(),
		SendRatePerSecond: cfg.Socket.SendRatePerSecond,
		SendBurst:         cfg.Socket.SendBurst,
		Logger:            log.Component("group-ws"),
		Metrics:           a.metrics,
	})
	a.group = groupchat.NewClient(a.groupSock, groupchat.Options{
		RoomID:      cfg.Group.RoomID,
		RejoinDelay: cfg.Group.RejoinDelay.Std(),
		Logger:      log,
		Metrics:     a.metrics,
		OnMessagesChange: func(msgs []groupchat.Message) {
			a.renderGroup(msgs)
			a.persistGroup(msgs)
		},
		OnRoomStatus: func(s groupchat.RoomStatus) {
			fmt.Fprintf(a.out, "* room %s\n", s)
		},
		OnUsersChange: func(users []groupchat.User) {
			fmt.Fprintf(a.out, "* %d online\n", len(users))
		},
	})
	a.groupSock.SetHandler(a.group.HandleFrame)
	a.groupSock.SetStatusHandler(a.handleGroupStatus)

	if cfg.Ops.Enabled {
		a.ops = opsserver.New(opsserver.Options{
			Addr:     cfg.Ops.Addr,
			Logger:   log,
			Registry: registry,
			Sockets: map[string]opsserver.StatusSource{
				"chat":  a.chatSock.Status,
				"group": a.groupSock.Status,
			},
		})
	}

	return a, nil
}

// Chat exposes the assistant chat client.
func (a *App) Chat() *chat.Client { return a.chat }

// Group exposes the group chat client.
func (a *App) Group() *groupchat.Client { return a.group }

// SessionID identifies this process instance in logs.
func (a *App) SessionID() string { return a.sessionID }

// Run brings everything up, serves the interactive loop until input or
// the context ends, then persists transcripts and tears down.
func (a *App) Run(ctx context.Context, input io.Reader) error {
	a.log.Info("starting",
		zap.String("session_id", a.sessionID),
		zap.String("chat_url", a.cfg.Chat.URL),
		zap.String("group_url", a.cfg.Group.URL))

	if err := a.probe.WaitReady(ctx); err != nil {
		return fmt.Errorf("backend never became ready: %w", err)
	}

	a.restoreTranscripts()

	if a.ops != nil {
		a.ops.Start()
	}
	a.chatSock.Connect()
	a.groupSock.Connect()

	a.repl(ctx, input)

	a.shutdown()
	return nil
}

func (a *App) handleGroupStatus(s transport.Status) {
	a.group.HandleStatus(s)
	fmt.Fprintf(a.out, "* group socket %s\n", s)

	if s != transport.StatusConnected {
		return
	}
	a.mu.Lock()
	nickname := a.autoNickname
	a.autoNickname = ""
	a.mu.Unlock()
	if nickname == "" {
		return
	}
	if err := a.group.JoinRoom(nickname); err != nil {
		a.log.Warn("auto-join failed", zap.Error(err))
	}
}

func (a *App) restoreTranscripts() {
	if a.hist == nil {
		return
	}
	if msgs, err := a.hist.LoadChat(); err != nil {
		a.log.Warn("chat transcript restore failed", zap.Error(err))
	} else if len(msgs) > 0 {
		a.chat.Store().Replace(msgs)
		a.mu.Lock()
		a.chatPrinted = len(msgs)
		a.mu.Unlock()
		fmt.Fprintf(a.out, "* restored %d chat messages\n", len(msgs))
	}
	if msgs, err := a.hist.LoadGroup(a.cfg.Group.RoomID); err != nil {
		a.log.Warn("group transcript restore failed", zap.Error(err))
	} else if len(msgs) > 0 {
		a.group.Replace(msgs)
		a.mu.Lock()
		a.groupPrinted = len(msgs)
		a.mu.Unlock()
		fmt.Fprintf(a.out, "* restored %d room messages\n", len(msgs))
	}
}

// persistChat checkpoints the transcript on every visible mutation, so a
// crash loses at most the in-flight stream. Saving waits for the stream to
// finish rather than writing every chunk.
func (a *App) persistChat(msgs []chat.Message) {
	if a.hist == nil {
		return
	}
	if n := len(msgs); n > 0 && msgs[n-1].IsStreaming {
		return
	}
	if err := a.hist.SaveChat(msgs); err != nil {
		a.log.Warn("chat transcript save failed", zap.Error(err))
	}
}

func (a *App) persistGroup(msgs []groupchat.Message) {
	if a.hist == nil {
		return
	}
	if err := a.hist.SaveGroup(a.cfg.Group.RoomID, msgs); err != nil {
		a.log.Warn("group transcript save failed", zap.Error(err))
	}
}

func (a *App) shutdown() {
	// Final checkpoint before the sockets come down. A stream still in
	// flight is finalized by the disconnect below, and that mutation
	// persists through the change callback while the db is still open.
	a.persistChat(a.chat.Store().Messages())
	a.persistGroup(a.group.Messages())

	a.chatSock.Disconnect()
	a.groupSock.Disconnect()

	if a.ops != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.ops.Shutdown(ctx); err != nil {
			a.log.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			a.log.Warn("history close failed", zap.Error(err))
		}
	}
	a.log.Info("stopped", zap.String("session_id", a.sessionID))
}

// renderChat prints newly finalized messages. The in-flight streaming
// message is skipped until it completes.
func (a *App) renderChat(msgs []chat.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.chatPrinted < len(msgs) {
		m := msgs[a.chatPrinted]
		if m.IsStreaming {
			return
		}
		fmt.Fprintf(a.out, "[%s] %s\n", m.Role, m.Content)
		a.chatPrinted++
	}
}

func (a *App) renderGroup(msgs []groupchat.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.groupPrinted < len(msgs) {
		m := msgs[a.groupPrinted]
		if m.Kind == groupchat.KindSystem {
			fmt.Fprintf(a.out, "* %s\n", m.Content)
		} else {
			fmt.Fprintf(a.out, "<%s> %s\n", m.Sender, m.Content)
		}
		a.groupPrinted++
	}
}
