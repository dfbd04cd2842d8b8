// Package chat provides the messaging feature: friend and room listings,
// message history, and the per-room controller that drives the realtime
// join/leave lifecycle.
package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/withgift/storefront/internal/api"
)

// Room is a chat room summary as shown in the room list.
type Room struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"display_name"`
	LastMessage    string   `json:"last_message"`
	UnreadCount    int      `json:"unread_count"`
	ParticipantIDs []string `json:"participant_ids"`
}

// Friend is a chat contact.
type Friend struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is one chat message. JOIN/LEAVE signals never become Messages;
// they exist only on the wire.
type Message struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	SentAt      time.Time `json:"sent_at"`
	Body        string    `json:"body"`
	IsGift      bool      `json:"is_gift"`
	GiftOrderID string    `json:"gift_order_id,omitempty"`
}

// Client provides the chat HTTP APIs.
type Client struct {
	api *api.Client
}

// NewClient creates a chat API client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// Rooms lists the caller's chat rooms.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var out []Room
	if err := c.api.Get(ctx, "/chatrooms", &out); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return out, nil
}

// Friends lists the caller's friends.
func (c *Client) Friends(ctx context.Context) ([]Friend, error) {
	var out []Friend
	if err := c.api.Get(ctx, "/friends", &out); err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return out, nil
}

// CreateRoom opens (or returns the existing) room with a friend.
func (c *Client) CreateRoom(ctx context.Context, friendID string) (Room, error) {
	var out Room
	body := map[string]string{"friend_id": friendID}
	if err := c.api.Post(ctx, "/messages/new-room", body, &out); err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	return out, nil
}

// History fetches a room's full message history, sorted ascending by send
// time regardless of the server's ordering.
func (c *Client) History(ctx context.Context, roomID string) ([]Message, error) {
	var out []Message
	body := map[string]string{"room_id": roomID}
	if err := c.api.Post(ctx, "/messages/history", body, &out); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}
