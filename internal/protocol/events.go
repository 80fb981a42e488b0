package protocol

import (
	"encoding/json"
	"fmt"
)

// One-on-one chat event variants carried under chat_response.
const (
	ChatTypingStart     = "typing_start"
	ChatTypingEnd       = "typing_end"
	ChatContentChunk    = "content_chunk"
	ChatMessageComplete = "message_complete"
	ChatStreamError     = "error"
	ChatImageGenerated  = "image_generated"
	ChatImageGenerating = "image_generating"
)

// ChatEvent is the payload of a chat_response frame.
type ChatEvent struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	FullContent string `json:"full_content,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Error       string `json:"error,omitempty"`
	ImageData   string `json:"image_data,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// ChatEvent decodes the envelope payload as a chat event.
func (e Envelope) ChatEvent() (ChatEvent, error) {
	if e.Type != TypeChatResponse {
		return ChatEvent{}, fmt.Errorf("frame is %q, not %q", e.Type, TypeChatResponse)
	}
	var ev ChatEvent
	if err := json.Unmarshal(e.Data, &ev); err != nil {
		return ChatEvent{}, fmt.Errorf("failed to decode chat event: %w", err)
	}
	return ev, nil
}

// Group chat event variants carried under group_chat_response.
const (
	GroupRoomJoined = "room_joined"
	GroupRoomFull   = "room_full"
	GroupUserJoined = "user_joined"
	GroupUserLeft   = "user_left"
	GroupMessage    = "message"
	GroupUserList   = "user_list"
	GroupError      = "error"
)

// User is one entry of the room's authoritative presence list.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	JoinedAt int64  `json:"joined_at"` // Unix seconds
}

// GroupEvent is the payload of a group_chat_response frame.
type GroupEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Users     []User    `json:"users,omitempty"`
	UserCount int       `json:"userCount,omitempty"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// GroupEvent decodes the envelope payload as a group chat event.
func (e Envelope) GroupEvent() (GroupEvent, error) {
	if e.Type != TypeGroupChatResponse {
		return GroupEvent{}, fmt.Errorf("frame is %q, not %q", e.Type, TypeGroupChatResponse)
	}
	var ev GroupEvent
	if err := json.Unmarshal(e.Data, &ev); err != nil {
		return GroupEvent{}, fmt.Errorf("failed to decode group chat event: %w", err)
	}
	return ev, nil
}
