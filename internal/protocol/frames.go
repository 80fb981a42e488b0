// Package protocol defines the JSON frames exchanged with the chat backend
// over WebSocket, for both the one-on-one AI chat and the group chat.
//
// Every frame is a JSON object with a "type" discriminator. Response frames
// carry a nested payload under "data" whose own "type" field selects the
// event variant; Envelope keeps that payload raw so each consumer decodes
// only the variants it owns.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Outer frame discriminators.
const (
	TypePing              = "ping"
	TypePong              = "pong"
	TypeChatMessage       = "chat_message"
	TypeChatResponse      = "chat_response"
	TypeChatError         = "chat_error"
	TypeJoinRoom          = "join_room"
	TypeLeaveRoom         = "leave_room"
	TypeSendMessage       = "send_message"
	TypeGroupChatResponse = "group_chat_response"
	TypeGroupChatError    = "group_chat_error"
)

// DefaultRoomID is the backend's default group-chat room.
const DefaultRoomID = "general"

// Envelope is the outer shape of every inbound frame.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// DecodeEnvelope parses one raw frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return env, nil
}

// Attachment is a file payload attached to an outbound chat message.
// Data is base64-encoded file content.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Ping is the heartbeat frame sent while the connection is open.
type Ping struct {
	Type string `json:"type"`
}

// NewPing builds a heartbeat frame.
func NewPing() Ping {
	return Ping{Type: TypePing}
}

// ChatMessage is an outbound one-on-one chat message.
type ChatMessage struct {
	Type        string       `json:"type"`
	Content     string       `json:"content"`
	MessageID   string       `json:"message_id"`
	Attachments []Attachment `json:"attachments"`
}

// NewChatMessage builds an outbound chat message frame.
func NewChatMessage(content, messageID string, attachments []Attachment) ChatMessage {
	if attachments == nil {
		attachments = []Attachment{}
	}
	return ChatMessage{
		Type:        TypeChatMessage,
		Content:     content,
		MessageID:   messageID,
		Attachments: attachments,
	}
}

// JoinRoom requests group-chat room membership under a nickname.
type JoinRoom struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
	RoomID   string `json:"room_id"`
}

// NewJoinRoom builds a join_room frame.
func NewJoinRoom(nickname, roomID string) JoinRoom {
	return JoinRoom{Type: TypeJoinRoom, Nickname: nickname, RoomID: roomID}
}

// LeaveRoom abandons group-chat room membership.
type LeaveRoom struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// NewLeaveRoom builds a leave_room frame.
func NewLeaveRoom(roomID string) LeaveRoom {
	return LeaveRoom{Type: TypeLeaveRoom, RoomID: roomID}
}

// ReplyRef is a shallow snapshot of the message being replied to. The wire
// key for the kind is "type" to match the backend's message model.
type ReplyRef struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
	Kind    string `json:"type"`
}

// SendMessage is an outbound group-chat message, optionally replying to an
// earlier message.
type SendMessage struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	RoomID  string    `json:"room_id"`
	ReplyTo *ReplyRef `json:"replyTo,omitempty"`
}

// NewSendMessage builds a send_message frame.
func NewSendMessage(message, roomID string, replyTo *ReplyRef) SendMessage {
	return SendMessage{Type: TypeSendMessage, Message: message, RoomID: roomID, ReplyTo: replyTo}
}

// Framer is implemented by outbound frames to expose their discriminator
// without re-marshaling.
type Framer interface {
	FrameType() string
}

func (p Ping) FrameType() string        { return p.Type }
func (m ChatMessage) FrameType() string { return m.Type }
func (j JoinRoom) FrameType() string    { return j.Type }
func (l LeaveRoom) FrameType() string   { return l.Type }
func (m SendMessage) FrameType() string { return m.Type }
