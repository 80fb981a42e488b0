package chat

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/monitoring"
	"github.com/temporalos/chatkit/internal/protocol"
	"github.com/temporalos/chatkit/internal/shared/id"
)

// Role distinguishes message authors in the one-on-one chat.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Attachment describes a file shown alongside a message.
type Attachment struct {
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

// Message is one transcript entry. Content is mutable while IsStreaming is
// set and frozen once the stream completes.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	IsStreaming bool         `json:"isStreaming,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

const (
	conversationName = "chat"
	imageCaption     = "Here's the image I generated for you:"
	imageName        = "generated-image.png"
)

// ChangeHandler observes the transcript after every visible mutation.
type ChangeHandler func(messages []Message)

// Store holds the ordered transcript and assembles streamed assistant
// output. Mutations commit under the lock, then notify the change handler
// with a snapshot.
type Store struct {
	log      *logging.Logger
	metrics  *monitoring.Metrics
	onChange ChangeHandler

	mu        sync.Mutex
	messages  []Message
	typing    bool
	buffer    string
	currentID string
}

// NewStore creates a transcript store. onChange may be nil.
func NewStore(log *logging.Logger, metrics *monitoring.Metrics, onChange ChangeHandler) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{log: log, metrics: metrics, onChange: onChange}
}

// Messages returns a snapshot of the transcript.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// IsTyping reports whether the assistant typing indicator is active.
func (s *Store) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *Store) snapshotLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) notify(snapshot []Message) {
	if s.onChange != nil {
		s.onChange(snapshot)
	}
}

// AddUserMessage appends a human message, optionally with attachment
// previews, and returns it.
func (s *Store) AddUserMessage(content string, attachments []Attachment) Message {
	msg := Message{
		ID:          id.NewMessageID().String(),
		Role:        RoleHuman,
		Content:     content,
		Timestamp:   time.Now(),
		Attachments: attachments,
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordMessage(conversationName, string(RoleHuman))
	s.notify(snapshot)
	return msg
}

// Apply folds one assistant stream event into the transcript.
func (s *Store) Apply(ev protocol.ChatEvent) {
	switch ev.Type {
	case protocol.ChatTypingStart:
		s.mu.Lock()
		s.typing = true
		s.buffer = ""
		s.currentID = ev.MessageID
		s.mu.Unlock()

	case protocol.ChatTypingEnd:
		s.mu.Lock()
		s.typing = false
		s.mu.Unlock()

	case protocol.ChatContentChunk:
		s.applyChunk(ev.Content)

	case protocol.ChatMessageComplete:
		s.applyComplete(ev.FullContent)

	case protocol.ChatImageGenerated:
		s.applyImage(ev)

	case protocol.ChatImageGenerating:
		s.log.Debug("image generation started")

	case protocol.ChatStreamError:
		s.log.Error("chat stream error", zap.String("error", ev.Error))
		s.AddErrorMessage(ev.Error)

	default:
		s.log.Debug("ignoring unknown chat event", zap.String("type", ev.Type))
	}
}

// applyChunk appends to the accumulation buffer and updates the in-flight
// streaming message in place, creating it on the first chunk. A typing_start
// with zero chunks before an error therefore leaves no visible message.
func (s *Store) applyChunk(content string) {
	s.mu.Lock()
	s.buffer += content

	if last := s.lastLocked(); last != nil && last.Role == RoleAssistant && last.IsStreaming {
		last.Content = s.buffer
	} else {
		msgID := s.currentID
		if msgID == "" {
			msgID = id.NewMessageID().String()
		}
		s.messages = append(s.messages, Message{
			ID:          msgID,
			Role:        RoleAssistant,
			Content:     s.buffer,
			Timestamp:   time.Now(),
			IsStreaming: true,
		})
		s.metrics.RecordStreamStart()
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// applyComplete finalizes the streaming message. The server's full_content
// is authoritative and replaces the accumulated buffer, guarding against
// chunk-loss drift.
func (s *Store) applyComplete(fullContent string) {
	s.mu.Lock()
	if last := s.lastLocked(); last != nil && last.Role == RoleAssistant && last.IsStreaming {
		if fullContent != "" {
			last.Content = fullContent
		}
		last.IsStreaming = false
		s.metrics.RecordStreamEnd()
		s.metrics.RecordMessage(conversationName, string(RoleAssistant))
	}
	s.buffer = ""
	s.currentID = ""
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// applyImage appends a standalone assistant message carrying the generated
// image as a data: URI attachment. Independent of the typing/streaming state.
func (s *Store) applyImage(ev protocol.ChatEvent) {
	if ev.ImageData == "" || ev.MimeType == "" {
		s.log.Warn("image event missing image_data or mime_type")
		return
	}

	msg := Message{
		ID:        id.NewMessageID().String(),
		Role:      RoleAssistant,
		Content:   imageCaption,
		Timestamp: time.Now(),
		Attachments: []Attachment{{
			Name:       imageName,
			MimeType:   ev.MimeType,
			PreviewURL: fmt.Sprintf("data:%s;base64,%s", ev.MimeType, ev.ImageData),
		}},
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordMessage(conversationName, string(RoleAssistant))
	s.notify(snapshot)
}

// AddErrorMessage clears the typing indicator and appends the error as a
// permanent transcript entry.
func (s *Store) AddErrorMessage(errText string) {
	msg := Message{
		ID:        id.NewMessageID().String(),
		Role:      RoleAssistant,
		Content:   fmt.Sprintf("Sorry, I encountered an error: %s", errText),
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	s.typing = false
	s.messages = append(s.messages, msg)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordMessage(conversationName, string(RoleAssistant))
	s.notify(snapshot)
}

// AbandonStream finalizes an in-flight streaming message with whatever
// content accumulated. Called when the connection drops mid-stream so no
// message stays streaming forever.
func (s *Store) AbandonStream() {
	s.mu.Lock()
	changed := false
	if last := s.lastLocked(); last != nil && last.Role == RoleAssistant && last.IsStreaming {
		last.IsStreaming = false
		changed = true
		s.metrics.RecordStreamEnd()
	}
	s.typing = false
	s.buffer = ""
	s.currentID = ""
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.log.Warn("stream abandoned on connection loss")
		s.notify(snapshot)
	}
}

// Clear empties the transcript and resets all assembly state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.typing = false
	s.buffer = ""
	s.currentID = ""
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// Replace swaps the transcript wholesale, used when restoring persisted
// history. Observers are not notified.
func (s *Store) Replace(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]Message, len(messages))
	copy(s.messages, messages)
}

func (s *Store) lastLocked() *Message {
	if len(s.messages) == 0 {
		return nil
	}
	return &s.messages[len(s.messages)-1]
}
