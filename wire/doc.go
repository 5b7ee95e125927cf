// Package wire implements the line-delimited text protocol shared by the
// call, chat and voice message channels.
//
// Every exchange starts with a verb line terminated by "\n". A trailing "\r"
// is tolerated. Lines longer than limits.MaxLineLength close the connection.
//
// # Call Signaling
//
//	DIAL_REQUEST   -> DIAL_ACCEPT | DIAL_REJECT
//	CALL_END       -> CALL_END_ACK
//
// # Chat
//
//	CHAT_REQUEST
//	<sender address>  -> CHAT_ACCEPT | CHAT_REJECT
//	CHAT_MSG:<text>   (any number of times, either direction)
//	CHAT_CLOSE
//
// # Voice Message
//
//	AUDIO_MESSAGE
//	<file name>
//	<decimal byte size>
//	<raw payload>
//
// Conn wraps a net.Conn with a buffered reader and a serialized writer so a
// session's reader goroutine and its local control actions never interleave
// unsynchronized on the same connection.
package wire
