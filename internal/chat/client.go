package chat

import (
	"strings"

	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/monitoring"
	"github.com/temporalos/chatkit/internal/protocol"
	"github.com/temporalos/chatkit/internal/shared/id"
	"github.com/temporalos/chatkit/internal/transport"
)

// Transport is the subset of the socket the client drives. Satisfied by
// *transport.Socket; tests substitute a fake.
type Transport interface {
	Send(payload any) bool
	Connect()
	Disconnect()
	Status() transport.Status
}

// Options configures a chat client.
type Options struct {
	Logger           *logging.Logger
	Metrics          *monitoring.Metrics
	OnMessagesChange ChangeHandler
	// OnFocusRequest fires when the input should regain focus (message
	// completed, error surfaced, send dispatched). May be nil.
	OnFocusRequest func()
}

// Client orchestrates one send/receive cycle of the AI chat: it stages
// files, appends the optimistic local message, and routes inbound frames
// into the store.
type Client struct {
	tr      Transport
	store   *Store
	staging *Staging
	log     *logging.Logger
	onFocus func()
}

// NewClient creates a chat client on top of an existing transport. Wire the
// transport's frame handler to HandleFrame and its status handler to
// HandleStatus.
func NewClient(tr Transport, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Client{
		tr:      tr,
		store:   NewStore(opts.Logger, opts.Metrics, opts.OnMessagesChange),
		staging: NewStaging(),
		log:     opts.Logger,
		onFocus: opts.OnFocusRequest,
	}
}

// Store exposes the transcript store.
func (c *Client) Store() *Store { return c.store }

// Staging exposes the file staging area.
func (c *Client) Staging() *Staging { return c.staging }

// Connect opens the underlying transport.
func (c *Client) Connect() { c.tr.Connect() }

// Close disconnects the underlying transport.
func (c *Client) Close() { c.tr.Disconnect() }

// Status returns the transport status.
func (c *Client) Status() transport.Status { return c.tr.Status() }

// HandleFrame routes one inbound frame into the transcript store.
func (c *Client) HandleFrame(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeChatResponse:
		ev, err := env.ChatEvent()
		if err != nil {
			c.log.Error("dropping malformed chat response", zap.Error(err))
			return
		}
		c.store.Apply(ev)
		if ev.Type == protocol.ChatMessageComplete || ev.Type == protocol.ChatStreamError {
			c.requestFocus()
		}

	case protocol.TypeChatError:
		c.log.Error("chat error", zap.String("error", env.Error))
		c.store.AddErrorMessage(env.Error)
		c.requestFocus()

	default:
		c.log.Debug("ignoring frame", zap.String("type", env.Type))
	}
}

// HandleStatus reacts to transport transitions: a drop mid-stream finalizes
// the in-flight message instead of leaving it streaming forever.
func (c *Client) HandleStatus(status transport.Status) {
	if status == transport.StatusDisconnected {
		c.store.AbandonStream()
	}
}

// SendMessage appends the local human message and transmits it with any
// staged attachments. At least one of text or attachment is required.
// Returns whether transmission succeeded; the caller owns retries.
func (c *Client) SendMessage(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" && !c.staging.HasFiles() {
		return false
	}

	// Optimistic append: this chat has a single local author, so the
	// message can render before the server round-trip.
	c.store.AddUserMessage(trimmed, c.staging.Attachments())

	payloads, err := c.staging.Payloads()
	if err != nil {
		// Staged files are kept so the user can retry without
		// re-selecting them.
		c.log.Error("attachment conversion failed", zap.Error(err))
		c.store.AddErrorMessage("Failed to process file attachments")
		return false
	}

	c.staging.Clear()
	c.requestFocus()

	msgID := id.NewMessageID().String()
	sent := c.tr.Send(protocol.NewChatMessage(trimmed, msgID, payloads))
	if !sent {
		c.log.Warn("chat message not transmitted", zap.String("message_id", msgID))
	}
	return sent
}

func (c *Client) requestFocus() {
	if c.onFocus != nil {
		c.onFocus()
	}
}
