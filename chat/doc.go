// Package chat implements session-scoped text chat between two peers.
//
// A chat is independent of any call. The initiator connects to the peer's
// chat port and sends CHAT_REQUEST followed by its own address; the peer's
// Decider answers CHAT_ACCEPT or CHAT_REJECT. Once open, either side sends
// CHAT_MSG:<text> lines and either side may end the chat with CHAT_CLOSE.
//
// One chat may be open at a time. A request that arrives while another chat
// is being negotiated or is open is rejected without asking the Decider.
// Teardown runs once per session no matter which side or failure triggers
// it, and the socket is closed before the session slot is released so a new
// request can follow immediately.
package chat
