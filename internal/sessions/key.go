// Package sessions maps conversations to long-lived Agent sessions.
//
// Session keys follow the canonical format:
//
//	DM:    {channel}:dm:{senderId}
//	Group: {channel}:group:{chatId}
//
// DM keys include the sender so each person gets an isolated conversation;
// group keys omit it so all participants share one session per chat.
package sessions

import (
	"strings"

	"github.com/nextlevelbuilder/iris/internal/bus"
)

// Key builds the canonical session key for a conversation.
func Key(channelID, chatID, senderID string, chatType bus.ChatType) string {
	if chatType == bus.ChatGroup {
		return channelID + ":group:" + chatID
	}
	return channelID + ":dm:" + senderID
}

// ParseKey splits a canonical key into its parts. ok is false for keys not
// produced by Key.
func ParseKey(key string) (channelID string, chatType bus.ChatType, peer string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	switch parts[1] {
	case "dm":
		return parts[0], bus.ChatDM, parts[2], true
	case "group":
		return parts[0], bus.ChatGroup, parts[2], true
	}
	return "", "", "", false
}
