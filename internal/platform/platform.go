// Package platform defines the surface the router needs from the chat
// platform. The discord subpackage implements it over the Discord API;
// tests substitute fakes.
package platform

import "context"

// Messenger sends messages and creates threads on the chat platform.
// Thread and channel IDs share one namespace: SendMessage delivers to
// whichever kind the ID names.
type Messenger interface {
	// SendMessage posts content and returns the new message's ID.
	SendMessage(ctx context.Context, channelID, content string) (string, error)

	// EditMessage replaces the content of a previously sent message.
	EditMessage(ctx context.Context, channelID, messageID, content string) error

	// CreateThread starts a public thread on a channel message and
	// returns the thread ID.
	CreateThread(ctx context.Context, channelID, messageID, name string) (string, error)

	// React attaches an emoji reaction to a message. Best effort:
	// implementations log failures instead of propagating them.
	React(ctx context.Context, channelID, messageID, emoji string)
}
