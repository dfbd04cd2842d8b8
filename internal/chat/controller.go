package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withgift/storefront/internal/realtime"
	"github.com/withgift/storefront/pkg/logger"
)

// State is the controller's position in the room lifecycle.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// Errors
var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrNotActive     = errors.New("room is not active")
	ErrAlreadyJoined = errors.New("room already joined")
)

// RealtimeSession is the slice of the realtime manager the controller uses.
type RealtimeSession interface {
	Ready() bool
	Subscribe(topic string) (<-chan realtime.Frame, error)
	Unsubscribe(topic string)
	Publish(ctx context.Context, destination string, payload any) error
}

// HistoryLoader fetches a room's message history.
type HistoryLoader interface {
	History(ctx context.Context, roomID string) ([]Message, error)
}

// Identity resolves the current user from the session token.
type Identity interface {
	UserID() (string, error)
}

// Controller drives one room through Idle, Joining, Active, and Leaving.
// The message list it maintains never contains JOIN/LEAVE signals, is
// de-duplicated by message id, and stays sorted by send time.
type Controller struct {
	roomID   string
	rt       RealtimeSession
	history  HistoryLoader
	identity Identity
	log      *logger.Logger

	mu       sync.Mutex
	state    State
	userID   string
	messages []Message
	seen     map[string]bool
	// generation guards against stale async results: history loads tagged
	// with an old generation are discarded after a leave/re-join.
	generation uint64
}

// NewController creates a controller for one room.
func NewController(roomID string, rt RealtimeSession, history HistoryLoader, identity Identity, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	return &Controller{
		roomID:   roomID,
		rt:       rt,
		history:  history,
		identity: identity,
		log:      log.WithField("room_id", roomID),
		seen:     make(map[string]bool),
	}
}

// State reports the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the rendered message list.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Join subscribes to the room's topic and announces the join. The
// subscription happens before the JOIN publish so no message sent right
// after the join can be lost. The controller reaches Active when it sees
// its own JOIN echo come back on the topic.
func (c *Controller) Join(ctx context.Context) error {
	if !c.rt.Ready() {
		return realtime.ErrNotReady
	}

	userID, err := c.identity.UserID()
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.state = StateJoining
	c.userID = userID
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	frames, err := c.rt.Subscribe(realtime.RoomTopic(c.roomID))
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("subscribe room: %w", err)
	}

	go c.drain(ctx, frames, gen)

	join := realtime.MessagePayload{
		MessageID: uuid.NewString(),
		Signal:    realtime.SignalJoin,
		RoomID:    c.roomID,
		SenderID:  userID,
		SentAt:    time.Now().UTC(),
	}
	if err := c.rt.Publish(ctx, realtime.PublishDestination, join); err != nil {
		c.rt.Unsubscribe(realtime.RoomTopic(c.roomID))
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("announce join: %w", err)
	}

	c.log.Info("joining room")
	return nil
}

// Send publishes a chat message. Rejected locally, without a round trip,
// when the room is not active or the body is blank.
func (c *Controller) Send(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	state := c.state
	userID := c.userID
	c.mu.Unlock()

	if state != StateActive || userID == "" {
		return ErrNotActive
	}
	if !c.rt.Ready() {
		return realtime.ErrNotReady
	}

	msg := realtime.MessagePayload{
		MessageID: uuid.NewString(),
		Signal:    realtime.SignalChat,
		RoomID:    c.roomID,
		SenderID:  userID,
		SentAt:    time.Now().UTC(),
		Body:      body,
	}
	if err := c.rt.Publish(ctx, realtime.PublishDestination, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Leave announces the leave (best effort; skipped when the connection is
// gone) and unsubscribes. The controller returns to Idle.
func (c *Controller) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateLeaving
	userID := c.userID
	c.generation++
	c.mu.Unlock()

	if c.rt.Ready() && userID != "" {
		leave := realtime.MessagePayload{
			MessageID: uuid.NewString(),
			Signal:    realtime.SignalLeave,
			RoomID:    c.roomID,
			SenderID:  userID,
			SentAt:    time.Now().UTC(),
		}
		if err := c.rt.Publish(ctx, realtime.PublishDestination, leave); err != nil {
			c.log.WithError(err).Debug("leave announce skipped")
		}
	}

	c.rt.Unsubscribe(realtime.RoomTopic(c.roomID))

	c.mu.Lock()
	c.state = StateIdle
	c.messages = nil
	c.seen = make(map[string]bool)
	c.mu.Unlock()
	c.log.Info("left room")
}

// drain consumes the room's frame channel until it closes.
func (c *Controller) drain(ctx context.Context, frames <-chan realtime.Frame, gen uint64) {
	for frame := range frames {
		var payload realtime.MessagePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.log.WithError(err).Debug("undecodable frame dropped")
			continue
		}
		c.handle(ctx, payload, gen)
	}
}

func (c *Controller) handle(ctx context.Context, payload realtime.MessagePayload, gen uint64) {
	switch payload.Signal {
	case realtime.SignalJoin:
		c.mu.Lock()
		isOwnEcho := c.state == StateJoining && c.generation == gen && payload.SenderID == c.userID
		if isOwnEcho {
			c.state = StateActive
		}
		c.mu.Unlock()
		if isOwnEcho {
			c.log.Info("room active")
			go c.loadHistory(ctx, gen)
		}
		// JOIN signals are never rendered.
	case realtime.SignalLeave:
		// LEAVE signals are never rendered.
	default:
		c.append(Message{
			ID:          payload.MessageID,
			RoomID:      payload.RoomID,
			SenderID:    payload.SenderID,
			SentAt:      payload.SentAt,
			Body:        payload.Body,
			IsGift:      payload.IsGift,
			GiftOrderID: payload.GiftOrderID,
		}, gen)
	}
}

// loadHistory replaces the provisional message list with the server's
// history, keeping any live messages that raced in. Results from an old
// generation (the user already left or re-joined) are discarded.
func (c *Controller) loadHistory(ctx context.Context, gen uint64) {
	msgs, err := c.history.History(ctx, c.roomID)
	if err != nil {
		c.log.WithError(err).Warn("history load failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}

	live := c.messages
	c.messages = nil
	c.seen = make(map[string]bool, len(msgs)+len(live))
	for _, m := range msgs {
		c.insertLocked(m)
	}
	for _, m := range live {
		c.insertLocked(m)
	}
}

func (c *Controller) append(msg Message, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.insertLocked(msg)
}

// insertLocked adds a message, deduplicating by id and keeping the list
// sorted by send time. Requires c.mu.
func (c *Controller) insertLocked(msg Message) {
	if msg.ID != "" && c.seen[msg.ID] {
		return
	}
	if msg.ID != "" {
		c.seen[msg.ID] = true
	}

	i := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].SentAt.After(msg.SentAt)
	})
	c.messages = append(c.messages, Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = msg
}
