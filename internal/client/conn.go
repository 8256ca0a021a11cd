package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
)

// ConnState is the transport lifecycle. Once Failed, chat functionality is
// disabled until the caller dials again; there is no background retry.
type ConnState int

const (
	ConnConnected ConnState = iota
	ConnClosed
	ConnFailed
)

// ErrConnectFailed reports that every dial attempt was exhausted.
var ErrConnectFailed = errors.New("relay connection failed")

// Options configures a client connection.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8083/ws.
	URL string
	// MaxAttempts caps connection attempts; zero means 5.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts; zero means 2s.
	RetryDelay time.Duration
	Log        zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
}

// Conn is one client connection to the relay; inbound events feed the store.
type Conn struct {
	store *Store
	log   zerolog.Logger

	writeMu sync.Mutex
	ws      *websocket.Conn

	mu     sync.Mutex
	state  ConnState
	reason string

	done chan struct{}
}

// Dial connects to the relay with the bounded fixed-delay retry policy and
// starts the read pump. The returned connection is not yet authenticated.
func Dial(ctx context.Context, store *Store, opts Options) (*Conn, error) {
	opts.withDefaults()

	var ws *websocket.Conn
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
		if err == nil {
			ws = conn
			break
		}
		lastErr = err
		opts.Log.Warn().Err(err).Int("attempt", attempt).Str("url", opts.URL).Msg("relay dial failed")
		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
	if ws == nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectFailed, opts.MaxAttempts, lastErr)
	}

	c := &Conn{
		store: store,
		log:   opts.Log,
		ws:    ws,
		state: ConnConnected,
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// State returns the transport state and, for Failed, the reason.
func (c *Conn) State() (ConnState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.reason
}

// Done closes when the read pump stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down cleanly.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == ConnConnected {
		c.state = ConnClosed
	}
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.state == ConnConnected {
				c.state = ConnFailed
				c.reason = err.Error()
			}
			c.mu.Unlock()
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed relay frame")
			continue
		}
		if err := c.store.Apply(env); err != nil {
			c.log.Warn().Err(err).Str("event", env.Event).Msg("apply relay event")
		}
	}
}

// Send emits one named event to the relay.
func (c *Conn) Send(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Authenticate presents the bearer credential and identity claim.
func (c *Conn) Authenticate(token string, info protocol.UserInfo) error {
	return c.Send(protocol.EventAuthenticate, protocol.AuthRequest{Token: token, UserInfo: info})
}

// RequestStatuses asks for the full presence directory.
func (c *Conn) RequestStatuses() error {
	return c.Send(protocol.EventGetAllUserStatuses, nil)
}

// RequestChats asks for the caller's chat list.
func (c *Conn) RequestChats() error {
	return c.Send(protocol.EventGetMyChats, nil)
}

// OpenChat resets the local view, joins the chat's channel and requests the
// full history. Pushes arriving before the history reply are queued.
func (c *Conn) OpenChat(chatID int) error {
	c.store.BeginHistoryLoad(chatID)
	if err := c.Send(protocol.EventJoinChat, protocol.ChatRef{ChatID: chatID}); err != nil {
		return err
	}
	return c.Send(protocol.EventGetChatMessages, protocol.ChatRef{ChatID: chatID})
}

// SendMessage posts a message to a chat.
func (c *Conn) SendMessage(chatID int, content string) error {
	return c.Send(protocol.EventSendMessage, protocol.SendMessageRequest{ChatID: chatID, Content: content})
}

// CreateChat asks the relay to create (or dedupe to) a chat.
func (c *Conn) CreateChat(participants []protocol.ParticipantData, groupName string) error {
	return c.Send(protocol.EventCreateNewChat, protocol.CreateChatRequest{
		ParticipantsData: participants,
		GroupName:        groupName,
	})
}

// UpdateChat renames a chat and/or replaces its membership.
func (c *Conn) UpdateChat(req protocol.UpdateChatRequest) error {
	return c.Send(protocol.EventUpdateChat, req)
}

// RequestChatDetails fetches one chat projection, used when a push references
// a chat the local cache has never seen.
func (c *Conn) RequestChatDetails(chatID int) error {
	return c.Send(protocol.EventGetChatDetails, protocol.ChatRef{ChatID: chatID})
}
