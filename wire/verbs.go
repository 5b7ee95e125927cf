package wire

import "strings"

// Call signaling verbs.
const (
	VerbDialRequest = "DIAL_REQUEST"
	VerbDialAccept  = "DIAL_ACCEPT"
	VerbDialReject  = "DIAL_REJECT"
	VerbCallEnd     = "CALL_END"
	VerbCallEndAck  = "CALL_END_ACK"
)

// Chat verbs.
const (
	VerbChatRequest = "CHAT_REQUEST"
	VerbChatAccept  = "CHAT_ACCEPT"
	VerbChatReject  = "CHAT_REJECT"
	VerbChatClose   = "CHAT_CLOSE"

	// ChatMessagePrefix precedes the message text on a chat line.
	ChatMessagePrefix = "CHAT_MSG:"
)

// VerbAudioMessage announces a voice message on the voice message port.
const VerbAudioMessage = "AUDIO_MESSAGE"

// Verb normalizes a received line for verb comparison.
func Verb(line string) string {
	return strings.TrimSpace(line)
}

// ChatMessage formats a chat message line.
func ChatMessage(text string) string {
	return ChatMessagePrefix + text
}

// ParseChatMessage splits a chat line into its text. The text is everything
// after the first colon, so colons inside the message survive.
func ParseChatMessage(line string) (string, bool) {
	if !strings.HasPrefix(line, ChatMessagePrefix) {
		return "", false
	}
	return line[len(ChatMessagePrefix):], true
}
