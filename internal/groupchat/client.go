package groupchat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/monitoring"
	"github.com/temporalos/chatkit/internal/protocol"
	"github.com/temporalos/chatkit/internal/shared/id"
	"github.com/temporalos/chatkit/internal/transport"
)

// RoomStatus describes the client's relationship to the room.
type RoomStatus string

const (
	RoomStatusIdle    RoomStatus = "idle"
	RoomStatusJoining RoomStatus = "joining"
	RoomStatusJoined  RoomStatus = "joined"
	RoomStatusFull    RoomStatus = "full"
	RoomStatusError   RoomStatus = "error"
)

// Kind distinguishes participant messages from room announcements.
type Kind string

const (
	KindUser   Kind = "user"
	KindSystem Kind = "system"
)

// ReplySnapshot is a point-in-time copy of the message being replied to.
// It is embedded in the reply rather than referenced, so the rendering
// survives even if the original scrolls out of local state.
type ReplySnapshot struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
	Kind    Kind   `json:"type"`
}

// Message is one entry in the room timeline.
type Message struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"type"`
	Content   string         `json:"content"`
	Sender    string         `json:"sender"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ReplyTo   *ReplySnapshot `json:"replyTo,omitempty"`
}

// User is one present participant as reported by the server.
type User struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

// CurrentUser is the identity the server confirmed for this client.
type CurrentUser struct {
	ID       string
	Nickname string
}

// Transport is the connection surface the client drives.
type Transport interface {
	Send(payload any) bool
	Connect()
	Disconnect()
	Status() transport.Status
}

// Options configures a group chat client.
type Options struct {
	RoomID      string
	RejoinDelay time.Duration

	Logger  *logging.Logger
	Metrics *monitoring.Metrics

	// OnMessagesChange receives a snapshot of the timeline after every
	// visible mutation.
	OnMessagesChange func([]Message)

	// OnRoomStatus receives room membership transitions.
	OnRoomStatus func(RoomStatus)

	// OnUsersChange receives the presence list after every replacement.
	OnUsersChange func([]User)

	// OnFocusRequest fires after a successful send so the caller can
	// return focus to its input.
	OnFocusRequest func()
}

// Client coordinates room membership and the shared timeline over a
// reconnecting socket.
type Client struct {
	tr      Transport
	log     *logging.Logger
	metrics *monitoring.Metrics

	roomID      string
	rejoinDelay time.Duration

	onMessages func([]Message)
	onStatus   func(RoomStatus)
	onUsers    func([]User)
	onFocus    func()

	mu              sync.Mutex
	messages        []Message
	users           []User
	current         *CurrentUser
	pendingNickname string
	lastNickname    string
	rejoinTimer     *time.Timer
}

// NewClient builds a client over the given transport.
func NewClient(tr Transport, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	roomID := opts.RoomID
	if roomID == "" {
		roomID = protocol.DefaultRoomID
	}
	delay := opts.RejoinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Client{
		tr:          tr,
		log:         log,
		metrics:     opts.Metrics,
		roomID:      roomID,
		rejoinDelay: delay,
		onMessages:  opts.OnMessagesChange,
		onStatus:    opts.OnRoomStatus,
		onUsers:     opts.OnUsersChange,
		onFocus:     opts.OnFocusRequest,
	}
}

// Messages returns a snapshot of the room timeline.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Users returns a snapshot of the presence list.
func (c *Client) Users() []User {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]User, len(c.users))
	copy(out, c.users)
	return out
}

// UserCount reports the number of present participants.
func (c *Client) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

// CurrentUser reports the confirmed identity, if any.
func (c *Client) CurrentUser() (CurrentUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return CurrentUser{}, false
	}
	return *c.current, true
}

// JoinRoom requests membership under the given nickname. Confirmation
// arrives asynchronously through a room_joined event; until then the
// client has no identity and cannot send.
func (c *Client) JoinRoom(nickname string) error {
	trimmed := strings.TrimSpace(nickname)
	if trimmed == "" {
		return fmt.Errorf("nickname must not be empty")
	}

	c.mu.Lock()
	c.pendingNickname = trimmed
	c.mu.Unlock()

	if !c.tr.Send(protocol.NewJoinRoom(trimmed, c.roomID)) {
		c.mu.Lock()
		c.pendingNickname = ""
		c.mu.Unlock()
		return fmt.Errorf("join room %s: transport not connected", c.roomID)
	}
	c.log.Debug("join requested", zap.String("room", c.roomID), zap.String("nickname", trimmed))
	return nil
}

// LeaveRoom gives up the room identity. Rejoin on reconnect is disabled
// until the next explicit join.
func (c *Client) LeaveRoom() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.lastNickname = ""
	c.stopRejoinLocked()
	c.mu.Unlock()

	c.tr.Send(protocol.NewLeaveRoom(c.roomID))
	c.emitStatus(RoomStatusIdle)
}

// SendMessage submits a room message, optionally as a reply. It returns
// false when the client holds no confirmed identity or the transport
// rejects the frame. The message appears in the timeline only once the
// server echoes it back.
func (c *Client) SendMessage(content string, replyTo *ReplySnapshot) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}

	c.mu.Lock()
	joined := c.current != nil
	c.mu.Unlock()
	if !joined {
		c.log.Warn("send rejected, not joined", zap.String("room", c.roomID))
		return false
	}

	var ref *protocol.ReplyRef
	if replyTo != nil {
		ref = &protocol.ReplyRef{
			ID:      replyTo.ID,
			Content: replyTo.Content,
			Sender:  replyTo.Sender,
			Kind:    string(replyTo.Kind),
		}
	}
	if !c.tr.Send(protocol.NewSendMessage(trimmed, c.roomID, ref)) {
		c.log.Warn("send failed, transport not connected", zap.String("room", c.roomID))
		return false
	}
	if c.onFocus != nil {
		c.onFocus()
	}
	return true
}

// HandleFrame routes a decoded envelope from the transport.
func (c *Client) HandleFrame(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeGroupChatResponse:
		ev, err := env.GroupEvent()
		if err != nil {
			c.log.Warn("undecodable group event", zap.Error(err))
			return
		}
		c.apply(ev)
	case protocol.TypeGroupChatError:
		c.log.Warn("room error", zap.String("error", env.Error))
		c.emitStatus(RoomStatusIdle)
	}
}

// HandleStatus reacts to transport transitions. A drop invalidates the
// room identity; a reconnect schedules a rejoin under the remembered
// nickname after a short settle delay.
func (c *Client) HandleStatus(status transport.Status) {
	switch status {
	case transport.StatusDisconnected, transport.StatusError:
		c.mu.Lock()
		lost := c.current != nil
		c.current = nil
		c.mu.Unlock()
		if lost {
			c.log.Info("room identity lost with connection", zap.String("room", c.roomID))
			c.emitStatus(RoomStatusIdle)
		}
	case transport.StatusConnected:
		c.mu.Lock()
		need := c.lastNickname != "" && c.current == nil
		if need {
			c.stopRejoinLocked()
			nickname := c.lastNickname
			c.rejoinTimer = time.AfterFunc(c.rejoinDelay, func() {
				c.rejoin(nickname)
			})
		}
		c.mu.Unlock()
	}
}

func (c *Client) rejoin(nickname string) {
	c.mu.Lock()
	stale := c.current != nil || c.lastNickname == ""
	c.mu.Unlock()
	if stale {
		return
	}
	c.log.Info("rejoining room", zap.String("room", c.roomID), zap.String("nickname", nickname))
	if err := c.JoinRoom(nickname); err != nil {
		c.log.Warn("rejoin failed", zap.Error(err))
	}
}

func (c *Client) apply(ev protocol.GroupEvent) {
	switch ev.Type {
	case protocol.GroupRoomJoined:
		c.applyRoomJoined(ev)
	case protocol.GroupRoomFull:
		c.log.Warn("room full", zap.String("room", c.roomID))
		c.emitStatus(RoomStatusFull)
	case protocol.GroupUserJoined:
		c.applyUserJoined(ev)
	case protocol.GroupUserLeft:
		c.applyUserLeft(ev)
	case protocol.GroupMessage:
		c.applyMessage(ev)
	case protocol.GroupUserList:
		c.replaceUsers(ev.Users)
	case protocol.GroupError:
		c.log.Warn("room error", zap.String("error", ev.Error))
		c.emitStatus(RoomStatusIdle)
	default:
		c.log.Debug("unhandled group event", zap.String("type", ev.Type))
	}
}

// applyRoomJoined correlates the requested nickname against the confirmed
// user list. The server may have deduplicated the nickname with a numeric
// suffix, so an exact match is tried first and a prefix match second.
func (c *Client) applyRoomJoined(ev protocol.GroupEvent) {
	c.mu.Lock()
	c.replaceUsersLocked(ev.Users)
	pending := c.pendingNickname

	var matched *User
	if pending != "" {
		for i := range c.users {
			if c.users[i].Nickname == pending {
				matched = &c.users[i]
				break
			}
		}
		if matched == nil {
			for i := range c.users {
				if strings.HasPrefix(c.users[i].Nickname, pending) {
					matched = &c.users[i]
					break
				}
			}
		}
	}

	var confirmed CurrentUser
	if matched != nil {
		confirmed = CurrentUser{ID: matched.ID, Nickname: matched.Nickname}
		c.current = &confirmed
		c.lastNickname = pending
		c.pendingNickname = ""
	}
	c.mu.Unlock()

	c.emitUsers()
	if matched == nil {
		c.log.Warn("joined room but could not identify self",
			zap.String("room", c.roomID),
			zap.String("requested", pending))
		c.emitStatus(RoomStatusError)
		return
	}
	c.log.Info("joined room",
		zap.String("room", c.roomID),
		zap.String("nickname", confirmed.Nickname),
		zap.String("user_id", confirmed.ID))
	c.emitStatus(RoomStatusJoined)
}

func (c *Client) applyUserJoined(ev protocol.GroupEvent) {
	if ev.Sender == "" || ev.UserID == "" {
		return
	}
	c.mu.Lock()
	c.appendLocked(Message{
		ID:        id.NewMessageID().String(),
		Kind:      KindSystem,
		Content:   fmt.Sprintf("%s joined the chat", ev.Sender),
		Sender:    "System",
		Timestamp: time.Now(),
	})
	if ev.Users != nil {
		c.replaceUsersLocked(ev.Users)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.RecordMessage("group", string(KindSystem))
	c.notifyMessages(snapshot)
	if ev.Users != nil {
		c.emitUsers()
	}
}

func (c *Client) applyUserLeft(ev protocol.GroupEvent) {
	if ev.Sender == "" {
		return
	}
	c.mu.Lock()
	c.appendLocked(Message{
		ID:        id.NewMessageID().String(),
		Kind:      KindSystem,
		Content:   fmt.Sprintf("%s left the chat", ev.Sender),
		Sender:    "System",
		Timestamp: time.Now(),
	})
	if ev.Users != nil {
		c.replaceUsersLocked(ev.Users)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.RecordMessage("group", string(KindSystem))
	c.notifyMessages(snapshot)
	if ev.Users != nil {
		c.emitUsers()
	}
}

func (c *Client) applyMessage(ev protocol.GroupEvent) {
	if ev.Message == "" || ev.Sender == "" {
		return
	}
	c.mu.Lock()
	// The server may have renamed us during dedup. Our own echo carries
	// the authoritative nickname, so adopt it.
	if c.current != nil && ev.UserID != "" && ev.UserID == c.current.ID && ev.Sender != c.current.Nickname {
		c.log.Debug("adopting server-assigned nickname",
			zap.String("was", c.current.Nickname),
			zap.String("now", ev.Sender))
		c.current.Nickname = ev.Sender
	}
	var reply *ReplySnapshot
	if ev.ReplyTo != nil {
		reply = &ReplySnapshot{
			ID:      ev.ReplyTo.ID,
			Content: ev.ReplyTo.Content,
			Sender:  ev.ReplyTo.Sender,
			Kind:    Kind(ev.ReplyTo.Kind),
		}
	}
	c.appendLocked(Message{
		ID:        id.NewMessageID().String(),
		Kind:      KindUser,
		Content:   ev.Message,
		Sender:    ev.Sender,
		UserID:    ev.UserID,
		Timestamp: time.Now(),
		ReplyTo:   reply,
	})
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.RecordMessage("group", string(KindUser))
	c.notifyMessages(snapshot)
}

// Replace swaps the timeline wholesale, for restoring persisted history.
// Observers are not notified.
func (c *Client) Replace(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]Message, len(messages))
	copy(c.messages, messages)
}

// Clear empties the timeline.
func (c *Client) Clear() {
	c.mu.Lock()
	c.messages = nil
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.notifyMessages(snapshot)
}

func (c *Client) appendLocked(msg Message) {
	c.messages = append(c.messages, msg)
}

func (c *Client) snapshotLocked() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Client) replaceUsers(users []protocol.User) {
	c.mu.Lock()
	c.replaceUsersLocked(users)
	c.mu.Unlock()
	c.emitUsers()
}

func (c *Client) replaceUsersLocked(users []protocol.User) {
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = User{ID: u.ID, Nickname: u.Nickname, JoinedAt: time.Unix(u.JoinedAt, 0)}
	}
	c.users = out
}

func (c *Client) stopRejoinLocked() {
	if c.rejoinTimer != nil {
		c.rejoinTimer.Stop()
		c.rejoinTimer = nil
	}
}

func (c *Client) notifyMessages(snapshot []Message) {
	if c.onMessages != nil {
		c.onMessages(snapshot)
	}
}

func (c *Client) emitStatus(status RoomStatus) {
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

func (c *Client) emitUsers() {
	if c.onUsers != nil {
		c.onUsers(c.Users())
	}
}
