// Package id provides centralized ID generation for the chat client.
//
// IDs are ULIDs with type-specific prefixes (msg_*, att_*, cli_*), which keeps
// transcripts lexicographically sortable by creation time and makes logs
// readable without a lookup table.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageID identifies a chat or group-chat message created locally
type MessageID string

// AttachmentID identifies a staged or sent file attachment
type AttachmentID string

// ClientID identifies one client instance (one socket owner)
type ClientID string

const (
	MessagePrefix    = "msg"
	AttachmentPrefix = "att"
	ClientPrefix     = "cli"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewMessageID generates a new message ID
func NewMessageID() MessageID {
	return MessageID(Default().GenerateWithPrefix(MessagePrefix))
}

// NewAttachmentID generates a new attachment ID
func NewAttachmentID() AttachmentID {
	return AttachmentID(Default().GenerateWithPrefix(AttachmentPrefix))
}

// NewClientID generates a new client instance ID
func NewClientID() ClientID {
	return ClientID(Default().GenerateWithPrefix(ClientPrefix))
}

func (id MessageID) String() string    { return string(id) }
func (id AttachmentID) String() string { return string(id) }
func (id ClientID) String() string     { return string(id) }
