// Package limits provides centralized size constants and validation functions
// for the lanphone protocols.
//
// # Limits
//
//   - MaxLineLength (8 KiB): the longest signaling or chat line read from a peer.
//     Longer lines close the connection as a protocol error.
//
//   - MaxChatText (4096 bytes): the largest chat message body.
//
//   - MaxFileNameLength (255 bytes): the longest voice message file name.
//
//   - MaxVoiceMessageSize (64 MiB): the largest declared voice message payload.
//
//   - MaxAudioDatagram (1024 bytes): one PCM audio frame per UDP datagram.
//
//   - MaxConnectionsPerListener (64): concurrent handlers per TCP listener.
//
// # Validation Functions
//
//	if err := limits.ValidateChatText(text); err != nil {
//	    // ErrMessageEmpty, ErrMessageTooLarge or ErrLineBreak
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
