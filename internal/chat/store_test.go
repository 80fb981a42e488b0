package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temporalos/chatkit/internal/protocol"
)

func chunk(content string) protocol.ChatEvent {
	return protocol.ChatEvent{Type: protocol.ChatContentChunk, Content: content}
}

func TestStreamingAssemblyHappyPath(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart, MessageID: "srv-1"})
	assert.True(t, s.IsTyping())

	s.Apply(chunk("Hi"))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hi", msgs[0].Content)
	assert.True(t, msgs[0].IsStreaming)
	assert.Equal(t, "srv-1", msgs[0].ID)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatMessageComplete, FullContent: "Hi there!"})
	msgs = s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi there!", msgs[0].Content)
	assert.False(t, msgs[0].IsStreaming)
}

func TestServerFullContentWinsOverBuffer(t *testing.T) {
	// The authoritative final text replaces the locally accumulated
	// chunks, so chunk loss cannot drift the transcript.
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	s.Apply(chunk("a"))
	s.Apply(chunk("b"))
	s.Apply(protocol.ChatEvent{Type: protocol.ChatMessageComplete, FullContent: "c"})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", msgs[0].Content)
}

func TestChunksMutateNeverMultiply(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	for i := 0; i < 25; i++ {
		s.Apply(chunk("x"))
	}

	msgs := s.Messages()
	require.Len(t, msgs, 1, "chunks must update one message in place")
	assert.Len(t, msgs[0].Content, 25)
}

func TestTypingStartWithoutChunksLeavesNoMessage(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	s.Apply(protocol.ChatEvent{Type: protocol.ChatStreamError, Error: "model crashed"})

	msgs := s.Messages()
	require.Len(t, msgs, 1, "only the error entry should be visible")
	assert.Equal(t, "Sorry, I encountered an error: model crashed", msgs[0].Content)
	assert.False(t, s.IsTyping())
}

func TestTypingEndDoesNotFinalize(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	s.Apply(chunk("partial"))
	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingEnd})

	assert.False(t, s.IsTyping())
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsStreaming, "typing_end must not finalize content")

	// Chunks may still follow.
	s.Apply(chunk(" more"))
	assert.Equal(t, "partial more", s.Messages()[0].Content)
}

func TestImageGenerated(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{
		Type:      protocol.ChatImageGenerated,
		ImageData: "QQ==",
		MimeType:  "image/png",
	})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "data:image/png;base64,QQ==", msgs[0].Attachments[0].PreviewURL)
	assert.Equal(t, "image/png", msgs[0].Attachments[0].MimeType)
	assert.Equal(t, imageCaption, msgs[0].Content)
}

func TestImageGeneratedMissingFields(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatImageGenerated, ImageData: "QQ=="})
	s.Apply(protocol.ChatEvent{Type: protocol.ChatImageGenerated, MimeType: "image/png"})

	assert.Empty(t, s.Messages())
}

func TestImageDoesNotConsumeStream(t *testing.T) {
	// The image side-channel is orthogonal to the typing/streaming state.
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	s.Apply(chunk("describing"))
	s.Apply(protocol.ChatEvent{Type: protocol.ChatImageGenerated, ImageData: "QQ==", MimeType: "image/png"})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsStreaming)
	assert.Equal(t, imageCaption, msgs[1].Content)
}

func TestChangeHandlerSeesEveryVisibleMutation(t *testing.T) {
	var notifications [][]Message
	s := NewStore(nil, nil, func(msgs []Message) {
		notifications = append(notifications, msgs)
	})

	s.AddUserMessage("hello", nil)
	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart}) // not visible
	s.Apply(chunk("Hi"))
	s.Apply(protocol.ChatEvent{Type: protocol.ChatMessageComplete, FullContent: "Hi!"})

	require.Len(t, notifications, 3)
	last := notifications[len(notifications)-1]
	require.Len(t, last, 2)
	assert.Equal(t, "Hi!", last[1].Content)
}

func TestAbandonStreamFinalizesInFlightMessage(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	s.Apply(chunk("half an ans"))
	s.AbandonStream()

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsStreaming)
	assert.Equal(t, "half an ans", msgs[0].Content)
	assert.False(t, s.IsTyping())

	// A later stream starts clean.
	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	s.Apply(chunk("fresh"))
	msgs = s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "fresh", msgs[1].Content)
}

func TestClearResetsEverything(t *testing.T) {
	s := NewStore(nil, nil, nil)

	s.AddUserMessage("hello", nil)
	s.Apply(protocol.ChatEvent{Type: protocol.ChatTypingStart})
	s.Apply(chunk("Hi"))
	s.Clear()

	assert.Empty(t, s.Messages())
	assert.False(t, s.IsTyping())
}

func TestReplaceRestoresTranscript(t *testing.T) {
	s := NewStore(nil, nil, nil)

	saved := []Message{
		{ID: "m1", Role: RoleHuman, Content: "hello"},
		{ID: "m2", Role: RoleAssistant, Content: "hi"},
	}
	s.Replace(saved)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
}
